package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/pkg/model"
)

func TestMakeFilterBSON_FieldAndOpMapping(t *testing.T) {
	filters := model.Filters{
		{Field: "id", Op: model.OpEq, Value: "e1"},
		{Field: "updatedAt", Op: model.OpGt, Value: int64(10)},
		{Field: "version", Op: model.OpIn, Value: []int{1, 2}},
		{Field: "departmentId", Op: model.OpNe, Value: "d1"},
		{Field: "tags", Op: model.OpContains, Value: "manager"},
		{Field: "salary", Op: model.OpGte, Value: 2000},
		{Field: "salary", Op: model.OpLt, Value: 5000},
	}

	f := makeFilterBSON(filters)
	assert.Equal(t, bson.M{"$eq": "e1"}, f["doc_id"])
	assert.Equal(t, bson.M{"$gt": int64(10)}, f["updated_at"])
	assert.Equal(t, bson.M{"$in": []int{1, 2}}, f["version"])
	assert.Equal(t, bson.M{"$ne": "d1"}, f["data.departmentId"])
	assert.Equal(t, bson.M{"$eq": "manager"}, f["data.tags"])
	assert.Equal(t, bson.M{"$gte": 2000, "$lt": 5000}, f["data.salary"], "ranges on one field combine")
}

func TestMakeFilterBSON_UnknownOpSkipped(t *testing.T) {
	assert.Empty(t, makeFilterBSON(nil))
	assert.Empty(t, makeFilterBSON(model.Filters{{Field: "x", Op: "like", Value: 1}}))
}

func TestMakeSortBSON(t *testing.T) {
	sort := makeSortBSON([]model.Order{{Field: "lastName"}, {Field: "createdAt", Direction: "desc"}})
	assert.Equal(t, bson.D{
		{Key: "data.lastName", Value: 1},
		{Key: "created_at", Value: -1},
		{Key: "doc_id", Value: 1},
	}, sort)
}

func TestKeys(t *testing.T) {
	a := documentKey("employees", "e1")
	assert.Len(t, a, 32)
	assert.Equal(t, a, documentKey("employees", "e1"))
	assert.NotEqual(t, a, documentKey("employees", "e2"))
	assert.NotEqual(t, a, documentKey("contracts", "e1"))
	assert.NotEqual(t, collectionHash("employees"), documentKey("employees", ""))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError("get", nil))
	assert.ErrorIs(t, wrapError("get", context.Canceled), context.Canceled)

	err := wrapError("get", mongo.CommandError{Code: codeUnauthorized, Message: "not authorized on erp"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.Equal(t, netstatus.KindPermission, netstatus.Classify(err))

	err = wrapError("get", mongo.CommandError{Message: "connection reset", Labels: []string{"NetworkError"}})
	var ne *netstatus.NetworkError
	assert.True(t, errors.As(err, &ne))
	assert.Equal(t, "unavailable", ne.Kind)
	assert.Equal(t, "get", ne.Op)

	err = wrapError("set", context.DeadlineExceeded)
	assert.True(t, errors.As(err, &ne))
	assert.Equal(t, "timeout", ne.Kind)

	err = wrapError("set", mongo.ErrClientDisconnected)
	assert.True(t, netstatus.IsNetworkError(err))

	plain := errors.New("E11000 duplicate key")
	assert.Equal(t, plain, wrapError("set", plain))
}

func TestRecordDocument(t *testing.T) {
	r := record{DocID: "e1", Data: map[string]interface{}{"lastName": "Durand"}, Version: 2, CreatedAt: 1, UpdatedAt: 3}
	doc := r.document()
	assert.Equal(t, "e1", doc.GetID())
	assert.Equal(t, "Durand", doc["lastName"])
	assert.Equal(t, int64(2), doc.GetVersion())
	assert.Equal(t, int64(3), doc["updatedAt"])
}
