package pkg

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// IsDuplicateKeyError checks if the error is a unique index violation (E11000)
func IsDuplicateKeyError(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// IsNoDocumentsError checks if the error means a single-document query matched nothing
func IsNoDocumentsError(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// IsStoreUnavailableError checks if the error comes from the store being unreachable,
// rather than from the query itself
func IsStoreUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	return errors.Is(err, mongo.ErrClientDisconnected)
}
