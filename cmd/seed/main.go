package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/portfolio/internal/blog"
	"github.com/2beens/portfolio/internal/config"
	"github.com/2beens/portfolio/internal/db"
	"github.com/2beens/portfolio/internal/logging"
	"github.com/2beens/portfolio/internal/media"
	"github.com/2beens/portfolio/internal/telemetry/metrics"
)

// seed fills a development database with fake categories, authors and posts.
// Post documents are written to the disk media store.
func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	postsCount := flag.Int("posts", 30, "number of posts to create")
	authorsCount := flag.Int("authors", 3, "number of authors to create, at least one")
	categoriesCount := flag.Int("categories", 5, "number of categories to create")
	seedValue := flag.Int64("seed", 0, "gofakeit seed, 0 for random")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogLevel:    "debug",
		Environment: cfg.Environment,
	})

	if strings.HasPrefix(strings.ToLower(*env), "prod") {
		log.Fatalln("refusing to seed a production database")
	}

	if *authorsCount < 1 {
		log.Fatalln("posts need an author, use -authors > 0")
	}

	gofakeit.Seed(*seedValue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mongoClient, err := db.NewMongoClient(ctx, db.NewMongoClientParams{
		Host:    cfg.MongoHost,
		Port:    cfg.MongoPort,
		User:    os.Getenv("PORTFOLIO_MONGO_USER"),
		Pass:    os.Getenv("PORTFOLIO_MONGO_PASS"),
		AppName: "portfolio-seed",
	})
	if err != nil {
		log.Fatalf("new mongo client: %s", err)
	}
	defer db.Disconnect(context.Background(), mongoClient)

	if err := db.Ping(ctx, mongoClient); err != nil {
		log.Fatalf("ping mongo: %s", err)
	}

	repo := blog.NewMongoRepo(mongoClient.Database(cfg.MongoDBName))
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Fatalf("ensure indexes: %s", err)
	}

	diskStore, err := media.NewDiskStore(cfg.MediaDiskRootPath, cfg.MediaPublicBaseURL)
	if err != nil {
		log.Fatalf("new disk store: %s", err)
	}
	metricsManager := metrics.NewManager("backend", "seed", metrics.SetupPrometheus())
	mediaService := media.NewService(diskStore, time.Duration(cfg.MediaUploadTimeoutSec)*time.Second, metricsManager)

	service := blog.NewService(repo, mediaService, metricsManager, blog.PageLimits{
		DefaultSize: cfg.DefaultPageSize,
		MaxSize:     cfg.MaxPageSize,
	})

	if err := seed(ctx, service, *categoriesCount, *authorsCount, *postsCount); err != nil {
		log.Fatalf("seed: %s", err)
	}
	log.Infof("seeded %d categories, %d authors and %d posts", *categoriesCount, *authorsCount, *postsCount)
}

func seed(ctx context.Context, service *blog.Service, categoriesCount, authorsCount, postsCount int) error {
	var categoryIDs []string
	for len(categoryIDs) < categoriesCount {
		category, err := service.CreateCategory(ctx, gofakeit.Word()+"-"+gofakeit.DigitN(4))
		if err != nil {
			return fmt.Errorf("create category: %w", err)
		}
		categoryIDs = append(categoryIDs, category.ID)
	}

	var authorIDs []string
	for i := 0; i < authorsCount; i++ {
		author, err := service.CreateAuthor(ctx, blog.NewAuthor{
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
			Bio:   gofakeit.Sentence(12),
		})
		if err != nil {
			return fmt.Errorf("create author: %w", err)
		}
		authorIDs = append(authorIDs, author.ID)
	}

	tempDir, err := os.MkdirTemp("", "portfolio-seed-")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warnf("remove seed temp dir: %s", err)
		}
	}()

	for i := 0; i < postsCount; i++ {
		newPost := blog.NewPost{
			Title:    gofakeit.Sentence(gofakeit.Number(3, 8)),
			Content:  gofakeit.Paragraph(2, 4, 12, "\n\n"),
			AuthorID: randomID(authorIDs),
		}
		for _, id := range categoryIDs {
			if gofakeit.Bool() {
				newPost.CategoryIDs = append(newPost.CategoryIDs, id)
			}
		}

		var mediaInputs blog.MediaInputs
		// every third post gets a notes document attached
		if i%3 == 0 {
			doc, err := media.Stage(
				strings.NewReader(gofakeit.Paragraph(3, 5, 10, "\n")),
				gofakeit.Word()+"-notes.txt",
				media.SlotDocument,
				tempDir,
			)
			if err != nil {
				return fmt.Errorf("stage document: %w", err)
			}
			mediaInputs.Documents = []*media.StagedFile{doc}
		}

		post, err := service.CreatePost(ctx, newPost, mediaInputs)
		if err != nil {
			return fmt.Errorf("create post: %w", err)
		}

		for c := gofakeit.Number(0, 4); c > 0; c-- {
			newComment := blog.NewComment{
				AuthorID: randomID(authorIDs),
				Content:  gofakeit.Sentence(gofakeit.Number(4, 20)),
			}
			if _, err := service.AddComment(ctx, post.ID, newComment); err != nil {
				return fmt.Errorf("add comment: %w", err)
			}
		}

		for l := gofakeit.Number(0, 10); l > 0; l-- {
			if _, err := service.LikePost(ctx, post.ID); err != nil {
				return fmt.Errorf("like post: %w", err)
			}
		}

		log.Debugf("seeded post %s", post.ID)
	}

	return nil
}

func randomID(ids []string) string {
	return ids[gofakeit.Number(0, len(ids)-1)]
}
