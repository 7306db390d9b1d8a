package blog

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

const (
	postsCollection      = "posts"
	categoriesCollection = "categories"
	authorsCollection    = "authors"
)

var _ Repo = (*MongoRepo)(nil)

type postDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Title       string             `bson:"title"`
	Content     string             `bson:"content"`
	AuthorID    string             `bson:"author"`
	CategoryIDs []string           `bson:"categories"`
	Comments    []commentDoc       `bson:"comments"`
	Image       string             `bson:"image,omitempty"`
	Video       string             `bson:"video,omitempty"`
	Audio       string             `bson:"audio,omitempty"`
	Documents   []Document         `bson:"documents"`
	Likes       int                `bson:"likes"`
	Dislikes    int                `bson:"dislikes"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

type commentDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	AuthorID  string             `bson:"author"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"createdAt"`
	Likes     int                `bson:"likes"`
	Dislikes  int                `bson:"dislikes"`
}

type categoryDoc struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
}

type authorDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email,omitempty"`
	Bio       string             `bson:"bio,omitempty"`
	Avatar    string             `bson:"avatar,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// newPostDoc maps a new post to its document. Posts are always created
// without comments, those only get in through AddComment.
func newPostDoc(id primitive.ObjectID, p *Post) postDoc {
	doc := postDoc{
		ID:          id,
		Title:       p.Title,
		Content:     p.Content,
		AuthorID:    p.AuthorID,
		CategoryIDs: p.CategoryIDs,
		Comments:    []commentDoc{},
		Image:       p.Image,
		Video:       p.Video,
		Audio:       p.Audio,
		Documents:   p.Documents,
		Likes:       p.Likes,
		Dislikes:    p.Dislikes,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if doc.CategoryIDs == nil {
		doc.CategoryIDs = []string{}
	}
	if doc.Documents == nil {
		doc.Documents = []Document{}
	}
	return doc
}

func newCommentDoc(id primitive.ObjectID, c *Comment) commentDoc {
	return commentDoc{
		ID:        id,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		Likes:     c.Likes,
		Dislikes:  c.Dislikes,
	}
}

func (d postDoc) toPost() *Post {
	comments := make([]*Comment, 0, len(d.Comments))
	for _, c := range d.Comments {
		comments = append(comments, &Comment{
			ID:        c.ID.Hex(),
			AuthorID:  c.AuthorID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
			Likes:     c.Likes,
			Dislikes:  c.Dislikes,
		})
	}
	p := &Post{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Content:     d.Content,
		AuthorID:    d.AuthorID,
		CategoryIDs: d.CategoryIDs,
		Comments:    comments,
		Image:       d.Image,
		Video:       d.Video,
		Audio:       d.Audio,
		Documents:   d.Documents,
		Likes:       d.Likes,
		Dislikes:    d.Dislikes,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	p.normalize()
	return p
}

// MongoRepo keeps posts (with embedded comments), categories and authors in MongoDB.
type MongoRepo struct {
	db *mongo.Database
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{
		db: db,
	}
}

func (r *MongoRepo) posts() *mongo.Collection {
	return r.db.Collection(postsCollection)
}

func (r *MongoRepo) categories() *mongo.Collection {
	return r.db.Collection(categoriesCollection)
}

func (r *MongoRepo) authors() *mongo.Collection {
	return r.db.Collection(authorsCollection)
}

// EnsureIndexes creates the indexes the queries rely on. Safe to run on every start.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	if _, err := r.posts().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		// global comment lookups
		{Keys: bson.D{{Key: "comments._id", Value: 1}}},
	}); err != nil {
		return storeErr("create posts indexes", err)
	}

	if _, err := r.categories().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return storeErr("create categories indexes", err)
	}

	return nil
}

func (r *MongoRepo) CreatePost(ctx context.Context, post *Post) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.createPost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	id := primitive.NewObjectID()
	if _, err := r.posts().InsertOne(ctx, newPostDoc(id, post)); err != nil {
		return storeErr("insert post", err)
	}
	post.ID = id.Hex()

	return nil
}

func (r *MongoRepo) ListPosts(ctx context.Context, offset, limit int) (_ []*Post, _ int64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.listPosts")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("offset", offset))
	span.SetAttributes(attribute.Int("limit", limit))

	total, err := r.posts().CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, -1, storeErr("count posts", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.posts().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, -1, storeErr("find posts", err)
	}

	var docs []postDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, -1, storeErr("decode posts", err)
	}

	posts := make([]*Post, 0, len(docs))
	for _, d := range docs {
		posts = append(posts, d.toPost())
	}

	log.Tracef("mongo repo: listed %d posts, offset %d, limit %d, total %d", len(posts), offset, limit, total)

	return posts, total, nil
}

func (r *MongoRepo) GetPost(ctx context.Context, id string) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.getPost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrPostNotFound
	}

	var doc postDoc
	if err := r.posts().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if pkg.IsNoDocumentsError(err) {
			return nil, ErrPostNotFound
		}
		return nil, storeErr("find post", err)
	}

	return doc.toPost(), nil
}

func (r *MongoRepo) UpdatePost(ctx context.Context, id string, update PostUpdate) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.updatePost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrPostNotFound
	}

	set := bson.M{"updatedAt": update.UpdatedAt}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Content != nil {
		set["content"] = *update.Content
	}
	if update.CategoryIDs != nil {
		categoryIDs := *update.CategoryIDs
		if categoryIDs == nil {
			categoryIDs = []string{}
		}
		set["categories"] = categoryIDs
	}
	if update.Image != nil {
		set["image"] = *update.Image
	}
	if update.Video != nil {
		set["video"] = *update.Video
	}
	if update.Audio != nil {
		set["audio"] = *update.Audio
	}
	if update.Documents != nil {
		documents := *update.Documents
		if documents == nil {
			documents = []Document{}
		}
		set["documents"] = documents
	}

	return r.findOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, ErrPostNotFound)
}

func (r *MongoRepo) DeletePost(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.deletePost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrPostNotFound
	}

	res, err := r.posts().DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeErr("delete post", err)
	}
	if res.DeletedCount == 0 {
		return ErrPostNotFound
	}

	return nil
}

func (r *MongoRepo) AddComment(ctx context.Context, postID string, comment *Comment, updatedAt time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.addComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", postID))

	oid, err := primitive.ObjectIDFromHex(postID)
	if err != nil {
		return ErrPostNotFound
	}

	cid := primitive.NewObjectID()
	res, err := r.posts().UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$push": bson.M{"comments": newCommentDoc(cid, comment)},
		"$set":  bson.M{"updatedAt": updatedAt},
	})
	if err != nil {
		return storeErr("push comment", err)
	}
	if res.MatchedCount == 0 {
		return ErrPostNotFound
	}
	comment.ID = cid.Hex()

	return nil
}

func (r *MongoRepo) UpdateComment(ctx context.Context, ref CommentRef, content string, updatedAt time.Time) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.updateComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("comment.id", ref.CommentID))

	filter, err := commentFilter(ref)
	if err != nil {
		return nil, err
	}

	post, err := r.findOneAndUpdate(ctx, filter, bson.M{
		"$set": bson.M{
			"comments.$.content": content,
			"updatedAt":          updatedAt,
		},
	}, ErrCommentNotFound)
	if errors.Is(err, ErrCommentNotFound) {
		return nil, r.commentMissErr(ctx, ref)
	}
	return post, err
}

func (r *MongoRepo) DeleteComment(ctx context.Context, ref CommentRef, updatedAt time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.deleteComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("comment.id", ref.CommentID))

	filter, err := commentFilter(ref)
	if err != nil {
		return err
	}

	res, err := r.posts().UpdateOne(ctx, filter, bson.M{
		"$pull": bson.M{"comments": bson.M{"_id": filter["comments._id"]}},
		"$set":  bson.M{"updatedAt": updatedAt},
	})
	if err != nil {
		return storeErr("pull comment", err)
	}
	if res.MatchedCount == 0 {
		return r.commentMissErr(ctx, ref)
	}

	return nil
}

func (r *MongoRepo) ReactToPost(ctx context.Context, postID string, reaction Reaction, updatedAt time.Time) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.reactToPost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", postID))
	span.SetAttributes(attribute.String("reaction", string(reaction)))

	oid, err := primitive.ObjectIDFromHex(postID)
	if err != nil {
		return nil, ErrPostNotFound
	}

	return r.findOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{
		"$inc": bson.M{reaction.field(): 1},
		"$set": bson.M{"updatedAt": updatedAt},
	}, ErrPostNotFound)
}

func (r *MongoRepo) ReactToComment(ctx context.Context, ref CommentRef, reaction Reaction, updatedAt time.Time) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoRepo.reactToComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("comment.id", ref.CommentID))
	span.SetAttributes(attribute.String("reaction", string(reaction)))

	filter, err := commentFilter(ref)
	if err != nil {
		return nil, err
	}

	post, err := r.findOneAndUpdate(ctx, filter, bson.M{
		"$inc": bson.M{"comments.$." + reaction.field(): 1},
		"$set": bson.M{"updatedAt": updatedAt},
	}, ErrCommentNotFound)
	if errors.Is(err, ErrCommentNotFound) {
		return nil, r.commentMissErr(ctx, ref)
	}
	return post, err
}

func (r *MongoRepo) CreateCategory(ctx context.Context, category *Category) error {
	id := primitive.NewObjectID()
	if _, err := r.categories().InsertOne(ctx, categoryDoc{ID: id, Name: category.Name}); err != nil {
		if pkg.IsDuplicateKeyError(err) {
			return validationErr(fmt.Sprintf("category %q already exists", category.Name))
		}
		return storeErr("insert category", err)
	}
	category.ID = id.Hex()
	return nil
}

func (r *MongoRepo) ListCategories(ctx context.Context) ([]*Category, error) {
	return r.findCategories(ctx, bson.M{})
}

func (r *MongoRepo) CategoriesByIDs(ctx context.Context, ids []string) ([]*Category, error) {
	oids := toObjectIDs(ids)
	if len(oids) == 0 {
		return []*Category{}, nil
	}
	return r.findCategories(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

func (r *MongoRepo) findCategories(ctx context.Context, filter bson.M) ([]*Category, error) {
	cur, err := r.categories().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, storeErr("find categories", err)
	}
	var docs []categoryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeErr("decode categories", err)
	}

	categories := make([]*Category, 0, len(docs))
	for _, d := range docs {
		categories = append(categories, &Category{ID: d.ID.Hex(), Name: d.Name})
	}
	return categories, nil
}

// DeleteCategory removes the category and drops its references from posts.
func (r *MongoRepo) DeleteCategory(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrCategoryNotFound
	}

	res, err := r.categories().DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeErr("delete category", err)
	}
	if res.DeletedCount == 0 {
		return ErrCategoryNotFound
	}

	pulled, err := r.posts().UpdateMany(ctx, bson.M{"categories": id}, bson.M{"$pull": bson.M{"categories": id}})
	if err != nil {
		return storeErr("pull category from posts", err)
	}
	log.Tracef("mongo repo: category %s deleted, removed from %d posts", id, pulled.ModifiedCount)

	return nil
}

func (r *MongoRepo) CreateAuthor(ctx context.Context, author *Author) error {
	id := primitive.NewObjectID()
	if _, err := r.authors().InsertOne(ctx, authorDoc{
		ID:        id,
		Name:      author.Name,
		Email:     author.Email,
		Bio:       author.Bio,
		Avatar:    author.Avatar,
		CreatedAt: author.CreatedAt,
	}); err != nil {
		return storeErr("insert author", err)
	}
	author.ID = id.Hex()
	return nil
}

func (r *MongoRepo) ListAuthors(ctx context.Context) ([]*Author, error) {
	return r.findAuthors(ctx, bson.M{})
}

func (r *MongoRepo) AuthorsByIDs(ctx context.Context, ids []string) ([]*Author, error) {
	oids := toObjectIDs(ids)
	if len(oids) == 0 {
		return []*Author{}, nil
	}
	return r.findAuthors(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

func (r *MongoRepo) GetAuthor(ctx context.Context, id string) (*Author, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrAuthorNotFound
	}

	var doc authorDoc
	if err := r.authors().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if pkg.IsNoDocumentsError(err) {
			return nil, ErrAuthorNotFound
		}
		return nil, storeErr("find author", err)
	}
	return doc.toAuthor(), nil
}

func (r *MongoRepo) findAuthors(ctx context.Context, filter bson.M) ([]*Author, error) {
	cur, err := r.authors().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, storeErr("find authors", err)
	}
	var docs []authorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeErr("decode authors", err)
	}

	authors := make([]*Author, 0, len(docs))
	for _, d := range docs {
		authors = append(authors, d.toAuthor())
	}
	return authors, nil
}

func (d authorDoc) toAuthor() *Author {
	return &Author{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		Email:     d.Email,
		Bio:       d.Bio,
		Avatar:    d.Avatar,
		CreatedAt: d.CreatedAt,
	}
}

// findOneAndUpdate applies update atomically and returns the post after the update.
func (r *MongoRepo) findOneAndUpdate(ctx context.Context, filter, update bson.M, notFoundErr error) (*Post, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc postDoc
	if err := r.posts().FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if pkg.IsNoDocumentsError(err) {
			return nil, notFoundErr
		}
		return nil, storeErr("update post", err)
	}

	return doc.toPost(), nil
}

// commentMissErr tells apart a missing post from a missing comment in a scoped lookup.
func (r *MongoRepo) commentMissErr(ctx context.Context, ref CommentRef) error {
	if !ref.Scoped() {
		return ErrCommentNotFound
	}

	oid, err := primitive.ObjectIDFromHex(ref.PostID)
	if err != nil {
		return ErrPostNotFound
	}
	count, err := r.posts().CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return storeErr("count posts", err)
	}
	if count == 0 {
		return ErrPostNotFound
	}
	return ErrCommentNotFound
}

func commentFilter(ref CommentRef) (bson.M, error) {
	cid, err := primitive.ObjectIDFromHex(ref.CommentID)
	if err != nil {
		return nil, ErrCommentNotFound
	}
	filter := bson.M{"comments._id": cid}

	if ref.Scoped() {
		pid, err := primitive.ObjectIDFromHex(ref.PostID)
		if err != nil {
			return nil, ErrPostNotFound
		}
		filter["_id"] = pid
	}

	return filter, nil
}

func toObjectIDs(ids []string) []primitive.ObjectID {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			log.Tracef("mongo repo: skipping unresolvable reference %q", id)
			continue
		}
		oids = append(oids, oid)
	}
	return oids
}

// storeErr wraps a driver error; connectivity failures become ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if pkg.IsStoreUnavailableError(err) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
