package media

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
)

var _ Uploader = (*DriveUploader)(nil)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// DriveUploader stores media on Google Drive, under one root folder,
// and shares every uploaded file publicly for reading.
type DriveUploader struct {
	service        *drive.Service
	rootFolderName string

	mutex     sync.Mutex
	folderIDs map[string]string // folder name -> drive id
}

func NewDriveUploader(ctx context.Context, credentialsFile, rootFolderName string) (*DriveUploader, error) {
	driveService, err := drive.NewService(
		ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("new drive service: %w", err)
	}
	return NewDriveUploaderWithService(driveService, rootFolderName), nil
}

func NewDriveUploaderWithService(driveService *drive.Service, rootFolderName string) *DriveUploader {
	if rootFolderName == "" {
		rootFolderName = "portfolio_media"
	}
	return &DriveUploader{
		service:        driveService,
		rootFolderName: rootFolderName,
		folderIDs:      map[string]string{},
	}
}

func (u *DriveUploader) Upload(ctx context.Context, localPath string, opts UploadOptions) (_ *UploadResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "gdrive.upload")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rootID, err := u.ensureFolder(ctx, u.rootFolderName, "")
	if err != nil {
		return nil, fmt.Errorf("%w: gdrive root folder: %w", ErrUploadFailed, err)
	}
	folderID, err := u.ensureFolder(ctx, opts.Folder, rootID)
	if err != nil {
		return nil, fmt.Errorf("%w: gdrive folder %s: %w", ErrUploadFailed, opts.Folder, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUploadFailed, localPath, err)
	}
	defer f.Close()

	name := opts.Filename
	if name == "" {
		name = NewId()
	}

	created, err := u.service.Files.
		Create(&drive.File{
			Name:    name,
			Parents: []string{folderID},
		}).
		Media(f).
		Fields("id, webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: gdrive create file: %w", ErrUploadFailed, err)
	}

	if _, err := u.service.Permissions.
		Create(created.Id, &drive.Permission{
			Type: "anyone",
			Role: "reader",
		}).
		Context(ctx).
		Do(); err != nil {
		return nil, fmt.Errorf("%w: gdrive share file: %w", ErrUploadFailed, err)
	}

	log.Debugf("gdrive: file [%s] uploaded to %s, id: %s", name, opts.Folder, created.Id)

	link := created.WebContentLink
	if link == "" {
		link = "https://drive.google.com/uc?export=download&id=" + created.Id
	}

	return &UploadResult{
		SecureURL: link,
	}, nil
}

// ensureFolder finds or creates the named folder under parentID ("" means drive root).
func (u *DriveUploader) ensureFolder(ctx context.Context, name, parentID string) (string, error) {
	cacheKey := parentID + "/" + name

	u.mutex.Lock()
	defer u.mutex.Unlock()

	if id, ok := u.folderIDs[cacheKey]; ok {
		return id, nil
	}

	query := fmt.Sprintf(
		"mimeType='%s' and name='%s' and trashed=false",
		driveFolderMimeType,
		strings.ReplaceAll(name, "'", `\'`),
	)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	list, err := u.service.Files.
		List().
		Q(query).
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("list folders: %w", err)
	}

	if len(list.Files) > 0 {
		u.folderIDs[cacheKey] = list.Files[0].Id
		return list.Files[0].Id, nil
	}

	folderMeta := &drive.File{
		Name:     name,
		MimeType: driveFolderMimeType,
	}
	if parentID != "" {
		folderMeta.Parents = []string{parentID}
	}

	folder, err := u.service.Files.
		Create(folderMeta).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}

	u.folderIDs[cacheKey] = folder.Id
	return folder.Id, nil
}
