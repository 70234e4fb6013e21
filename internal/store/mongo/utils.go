package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/pkg/model"
)

func makeFilterBSON(filters model.Filters) bson.M {
	bsonFilter := bson.M{}

	for _, f := range filters {
		fieldName := mapField(f.Field)
		op := mapOp(f.Op)
		if op == "" {
			continue
		}
		if existing, ok := bsonFilter[fieldName].(bson.M); ok {
			existing[op] = f.Value
			continue
		}
		bsonFilter[fieldName] = bson.M{op: f.Value}
	}

	return bsonFilter
}

func mapField(field string) string {
	switch field {
	case "id":
		return "doc_id"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		return "created_at"
	case "version":
		return "version"
	default:
		return "data." + field
	}
}

func mapOp(op model.FilterOp) string {
	switch op {
	case model.OpEq, model.OpContains:
		// $eq on an array field matches any element.
		return "$eq"
	case model.OpNe:
		return "$ne"
	case model.OpGt:
		return "$gt"
	case model.OpGte:
		return "$gte"
	case model.OpLt:
		return "$lt"
	case model.OpLte:
		return "$lte"
	case model.OpIn:
		return "$in"
	default:
		return ""
	}
}

func makeSortBSON(orderBy []model.Order) bson.D {
	sort := bson.D{}
	for _, o := range orderBy {
		dir := 1
		if o.Direction == "desc" {
			dir = -1
		}
		sort = append(sort, bson.E{Key: mapField(o.Field), Value: dir})
	}
	return append(sort, bson.E{Key: "doc_id", Value: 1})
}

// Server error codes for rejected credentials or privileges.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// wrapError maps driver errors onto the classification used by the resilience
// layer.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeUnauthorized) || se.HasErrorCode(codeAuthenticationFailed)) {
		return errors.Join(model.ErrPermissionDenied, err)
	}
	if strings.Contains(err.Error(), "auth error") {
		return errors.Join(model.ErrPermissionDenied, err)
	}

	switch {
	case mongo.IsTimeout(err):
		return &netstatus.NetworkError{Op: op, Kind: "timeout", Err: err}
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return &netstatus.NetworkError{Op: op, Kind: "unavailable", Err: err}
	}
	return err
}
