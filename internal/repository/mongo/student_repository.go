package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"directory-service/internal/client"
	"directory-service/internal/model"
	"directory-service/internal/util"
)

const studentsCollection = "students"

// StudentRepository persists directory records in MongoDB. All passcode
// state transitions go through conditional updates so concurrent requests
// for the same record cannot interleave a stale read-modify-write.
type StudentRepository struct {
	collection *mongo.Collection
}

func NewStudentRepository(mc *client.MongoClient) *StudentRepository {
	return &StudentRepository{
		collection: mc.Collection(studentsCollection),
	}
}

func (r *StudentRepository) Create(ctx context.Context, student *model.Student) error {
	if student.ID == "" {
		student.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, student); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email, phone or roll number already registered", model.ErrDuplicate)
		}
		util.Error("Failed to create student",
			zap.String("email", student.Email),
			zap.Error(err))
		return fmt.Errorf("failed to create student: %w", err)
	}

	util.Info("Student created",
		zap.String("student_id", student.ID),
		zap.String("roll_number", student.RollNumber))

	return nil
}

func (r *StudentRepository) FindByID(ctx context.Context, id string) (*model.Student, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByIdentifier resolves an email address or, failing that, a roll number.
func (r *StudentRepository) FindByIdentifier(ctx context.Context, identifier string) (*model.Student, error) {
	student, err := r.findOne(ctx, bson.M{"email": util.NormalizeEmail(identifier)})
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"roll_number": identifier})
}

func (r *StudentRepository) findOne(ctx context.Context, filter bson.M) (*model.Student, error) {
	var student model.Student
	if err := r.collection.FindOne(ctx, filter).Decode(&student); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read student: %w", err)
	}
	return &student, nil
}

func (r *StudentRepository) List(ctx context.Context, limit, offset int) ([]*model.Student, int64, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count students: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list students: %w", err)
	}
	defer cursor.Close(ctx)

	var students []*model.Student
	if err := cursor.All(ctx, &students); err != nil {
		return nil, 0, fmt.Errorf("failed to decode students: %w", err)
	}

	return students, total, nil
}

// SetPendingOTP stores a freshly issued passcode. The filter pins
// otp_request_count to the value the caller read, so a concurrent issuance
// that already bumped the counter makes this write a no-op and the caller
// sees ErrStale instead of silently exceeding the rate limit.
func (r *StudentRepository) SetPendingOTP(ctx context.Context, id, otpHash string, expiry time.Time, requestCount int, windowStart time.Time, expectedCount int) error {
	filter := bson.M{
		"_id":               id,
		"otp_request_count": expectedCount,
	}
	update := bson.M{
		"$set": bson.M{
			"otp_hash":          otpHash,
			"otp_expiry":        expiry.UTC(),
			"otp_request_count": requestCount,
			"otp_window_start":  windowStart.UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		util.Error("Failed to persist pending OTP",
			zap.String("student_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to persist pending OTP: %w", err)
	}

	if result.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, id); errors.Is(err, model.ErrNotFound) {
			return model.ErrNotFound
		}
		return model.ErrStale
	}

	return nil
}

// ClearPendingOTP removes the pending passcode. A non-empty expectedHash
// makes the clear conditional so an expired verify cannot wipe a code that
// was re-issued in the meantime. Clearing an already-clear record is a no-op.
func (r *StudentRepository) ClearPendingOTP(ctx context.Context, id, expectedHash string) error {
	filter := bson.M{"_id": id}
	if expectedHash != "" {
		filter["otp_hash"] = expectedHash
	}
	update := bson.M{
		"$unset": bson.M{
			"otp_hash":   "",
			"otp_expiry": "",
		},
	}

	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		util.Error("Failed to clear pending OTP",
			zap.String("student_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to clear pending OTP: %w", err)
	}
	return nil
}

// ApplyProfileChanges performs a partial update of the mutable profile
// fields and returns the record as persisted.
func (r *StudentRepository) ApplyProfileChanges(ctx context.Context, id string, changes *model.ProfileChanges, now time.Time) (*model.Student, error) {
	set := bson.M{"updated_at": now.UTC()}
	if changes.Name != nil {
		set["name"] = *changes.Name
	}
	if changes.Skills != nil {
		set["skills"] = *changes.Skills
	}
	if changes.LinkedInURL != nil {
		set["linkedin_url"] = *changes.LinkedInURL
	}
	if changes.GitHubURL != nil {
		set["github_url"] = *changes.GitHubURL
	}
	if changes.About != nil {
		set["about"] = *changes.About
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated model.Student
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		util.Error("Failed to apply profile changes",
			zap.String("student_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to apply profile changes: %w", err)
	}

	util.Info("Profile updated",
		zap.String("student_id", id))

	return &updated, nil
}

func (r *StudentRepository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.collection.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("student repository ping failed: %w", err)
	}
	return nil
}
