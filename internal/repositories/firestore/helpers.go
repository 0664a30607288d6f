package firestore

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errNotFound produces a gRPC NotFound error so WrapError categorises query
// misses the same way document misses are categorised.
func errNotFound(kind, id string) error {
	return status.Errorf(codes.NotFound, "%s %s not found", kind, id)
}
