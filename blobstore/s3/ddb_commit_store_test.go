package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/idtrack/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDDBClient implements DDBClient for unit tests.
type MockDDBClient struct {
	mock.Mock
}

func (m *MockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*dynamodb.PutItemOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*dynamodb.QueryOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*dynamodb.GetItemOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*dynamodb.DeleteItemOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func queryOutputWithVersion(version, path string) *dynamodb.QueryOutput {
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			{
				"version":       &types.AttributeValueMemberN{Value: version},
				"snapshot_path": &types.AttributeValueMemberS{Value: path},
			},
		},
	}
}

func TestDDBCommitStore_OpenCurrent(t *testing.T) {
	t.Run("NoCommitYet", func(t *testing.T) {
		ddb := new(MockDDBClient)
		store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", ""), ddb, "commits", "s3://b")

		ddb.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once()

		_, err := store.Open(context.Background(), "CURRENT")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("LatestVersion", func(t *testing.T) {
		ddb := new(MockDDBClient)
		store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", ""), ddb, "commits", "s3://b")

		ddb.On("Query", mock.Anything, mock.MatchedBy(func(input *dynamodb.QueryInput) bool {
			return *input.TableName == "commits" && !*input.ScanIndexForward && *input.Limit == 1
		})).Return(queryOutputWithVersion("7", "snapshot-000007.bin"), nil).Once()

		blob, err := store.Open(context.Background(), "CURRENT")
		require.NoError(t, err)

		data, err := blobstore.ReadAll(context.Background(), blob)
		require.NoError(t, err)
		assert.Equal(t, "snapshot-000007.bin", string(data))
	})
}

func TestDDBCommitStore_PutCurrent(t *testing.T) {
	t.Run("FirstCommit", func(t *testing.T) {
		ddb := new(MockDDBClient)
		store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", ""), ddb, "commits", "s3://b")

		ddb.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once()
		ddb.On("PutItem", mock.Anything, mock.MatchedBy(func(input *dynamodb.PutItemInput) bool {
			version, ok := input.Item["version"].(*types.AttributeValueMemberN)
			path, ok2 := input.Item["snapshot_path"].(*types.AttributeValueMemberS)
			return ok && ok2 &&
				version.Value == "1" &&
				path.Value == "snapshot-000001.bin" &&
				*input.ConditionExpression == "attribute_not_exists(version)"
		})).Return(&dynamodb.PutItemOutput{}, nil).Once()

		err := store.Put(context.Background(), "CURRENT", []byte("snapshot-000001.bin"))
		assert.NoError(t, err)
	})

	t.Run("IncrementsVersion", func(t *testing.T) {
		ddb := new(MockDDBClient)
		store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", ""), ddb, "commits", "s3://b")

		ddb.On("Query", mock.Anything, mock.Anything).Return(queryOutputWithVersion("3", "snapshot-000003.bin"), nil).Once()
		ddb.On("PutItem", mock.Anything, mock.MatchedBy(func(input *dynamodb.PutItemInput) bool {
			version, ok := input.Item["version"].(*types.AttributeValueMemberN)
			return ok && version.Value == "4"
		})).Return(&dynamodb.PutItemOutput{}, nil).Once()

		err := store.Put(context.Background(), "CURRENT", []byte("snapshot-000004.bin"))
		assert.NoError(t, err)
	})

	t.Run("ConcurrentModification", func(t *testing.T) {
		ddb := new(MockDDBClient)
		store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", ""), ddb, "commits", "s3://b")

		ddb.On("Query", mock.Anything, mock.Anything).Return(queryOutputWithVersion("3", "snapshot-000003.bin"), nil).Once()
		ddb.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{}).Once()

		err := store.Put(context.Background(), "CURRENT", []byte("snapshot-000004.bin"))
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})
}

func TestDDBCommitStore_DelegatesNonCurrent(t *testing.T) {
	s3Client := new(MockS3Client)
	ddb := new(MockDDBClient)
	store := NewDDBCommitStore(NewStore(s3Client, "b", "p"), ddb, "commits", "s3://b/p")

	s3Client.On("DeleteObject", mock.Anything, mock.Anything).Return(&s3.DeleteObjectOutput{}, nil).Maybe()
	s3Client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &s3types.NotFound{}).Maybe()

	// Delete and Open on regular names go straight to S3, never touch DynamoDB.
	_ = store.Delete(context.Background(), "snapshot-000001.bin")
	_, _ = store.Open(context.Background(), "snapshot-000001.bin")
	ddb.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}
