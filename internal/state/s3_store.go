package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// S3StoreConfig configures the remote state backend.
type S3StoreConfig struct {
	Bucket        string
	Key           string
	Region        string
	DynamoDBTable string // lock table; locking is disabled when empty
	Profile       string
	Encrypt       bool // server-side encryption
}

// S3Store keeps state as a single JSON object in S3 and serializes applies
// through a DynamoDB conditional-write lock.
type S3Store struct {
	cfg         S3StoreConfig
	LockTimeout time.Duration

	s3Client *s3.Client
	dbClient *dynamodb.Client

	// mu serializes the record cache and remote writes across apply workers.
	mu      sync.Mutex
	loaded  bool
	records map[string]*ir.StateRecord
	serial  int64
}

// OpenS3Store initializes the remote backend clients.
func OpenS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 state backend requires a bucket")
	}
	if cfg.Key == "" {
		cfg.Key = "shopforge/state.json"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	s := &S3Store{
		cfg:         cfg,
		LockTimeout: DefaultLockTimeout,
		s3Client:    s3.NewFromConfig(awsCfg),
		records:     make(map[string]*ir.StateRecord),
	}
	if cfg.DynamoDBTable != "" {
		s.dbClient = dynamodb.NewFromConfig(awsCfg)
	}
	return s, nil
}

func (s *S3Store) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read state from s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("failed to read S3 object body: %w", err)
	}
	plain, err := DecryptState(raw)
	if err != nil {
		return err
	}

	var fs fileState
	if err := json.Unmarshal(plain, &fs); err != nil {
		return fmt.Errorf("failed to parse remote state: %w", err)
	}
	for _, rec := range fs.Records {
		s.records[rec.Address()] = rec
	}
	s.serial = fs.Serial
	s.loaded = true
	return nil
}

func (s *S3Store) Get(ctx context.Context, addr string) (*ir.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.records[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *S3Store) List(ctx context.Context) ([]*ir.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	out := make([]*ir.StateRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *S3Store) Put(ctx context.Context, rec *ir.StateRecord, base int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return err
	}

	addr := rec.Address()
	if err := s.checkVersion(addr, base); err != nil {
		return err
	}

	prev, existed := s.records[addr]
	stored := rec.Clone()
	stored.Version = base + 1
	s.records[addr] = stored
	if err := s.persist(ctx); err != nil {
		if existed {
			s.records[addr] = prev
		} else {
			delete(s.records, addr)
		}
		return err
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, addr string, base int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return err
	}
	if err := s.checkVersion(addr, base); err != nil {
		return err
	}
	prev := s.records[addr]
	delete(s.records, addr)
	if err := s.persist(ctx); err != nil {
		if prev != nil {
			s.records[addr] = prev
		}
		return err
	}
	return nil
}

func (s *S3Store) checkVersion(addr string, base int64) error {
	var current int64
	if rec, ok := s.records[addr]; ok {
		current = rec.Version
	}
	if current != base {
		return &ConcurrentModificationError{Address: addr, Base: base, Current: current}
	}
	return nil
}

func (s *S3Store) persist(ctx context.Context) error {
	s.serial++
	fs := fileState{FormatVersion: 1, Serial: s.serial}
	for _, rec := range s.records {
		fs.Records = append(fs.Records, rec)
	}

	plain, err := json.MarshalIndent(&fs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	content, err := EncryptState(plain)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Body:   bytes.NewReader(content),
	}
	if s.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	return nil
}

// Lock acquires the scope lock with a DynamoDB conditional put, retrying
// until LockTimeout. Without a lock table configured, locking is a no-op.
func (s *S3Store) Lock(ctx context.Context, scope string) (*LockHandle, error) {
	if s.dbClient == nil {
		return &LockHandle{Scope: scope}, nil
	}

	lockID := s.lockID(scope)
	token := fmt.Sprintf("shopforge-%d-%d", os.Getpid(), time.Now().UnixNano())
	deadline := time.Now().Add(s.LockTimeout)

	for {
		_, err := s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.cfg.DynamoDBTable),
			Item: map[string]dbtypes.AttributeValue{
				"LockID":  &dbtypes.AttributeValueMemberS{Value: lockID},
				"Info":    &dbtypes.AttributeValueMemberS{Value: token},
				"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
			ConditionExpression: aws.String("attribute_not_exists(LockID)"),
		})
		if err == nil {
			return &LockHandle{Scope: scope, Token: token}, nil
		}

		var ccf *dbtypes.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Scope: scope, Timeout: s.LockTimeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *S3Store) Unlock(handle *LockHandle) error {
	if s.dbClient == nil || handle == nil {
		return nil
	}

	_, err := s.dbClient.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.lockID(handle.Scope)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) lockID(scope string) string {
	return fmt.Sprintf("%s/%s/%s", s.cfg.Bucket, s.cfg.Key, scope)
}
