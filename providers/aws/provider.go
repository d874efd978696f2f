// Package aws implements the AWS provider. Resource kinds map onto the
// managed services backing a production deployment: resource groups,
// ECR registries, EKS clusters, Secrets Manager vaults and ECS services.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroups"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/shopforge-io/shopforge/internal/provider"
)

// Resource kinds served by this provider.
const (
	KindResourceGroup = "core.ResourceGroup"
	KindRegistry      = "registry.Registry"
	KindCluster       = "cluster.Cluster"
	KindVault         = "vault.Vault"
	KindSecret        = "vault.Secret"
	KindService       = "workload.Service"
)

type Config struct {
	Region  string
	Profile string
}

type Provider struct {
	cfg Config

	mu                   sync.Mutex
	resourcegroupsClient *resourcegroups.Client
	ecrClient            *ecr.Client
	eksClient            *eks.Client
	kmsClient            *kms.Client
	secretsmanagerClient *secretsmanager.Client
	ecsClient            *ecs.Client
	cloudwatchClient     *cloudwatch.Client
}

func New(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resourcegroupsClient != nil {
		return nil
	}

	opts := []func(*config.LoadOptions) error{}
	if p.cfg.Region != "" {
		opts = append(opts, config.WithRegion(p.cfg.Region))
	}
	if p.cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.cfg.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load SDK config, %v", err)
	}

	p.resourcegroupsClient = resourcegroups.NewFromConfig(cfg)
	p.ecrClient = ecr.NewFromConfig(cfg)
	p.eksClient = eks.NewFromConfig(cfg)
	p.kmsClient = kms.NewFromConfig(cfg)
	p.secretsmanagerClient = secretsmanager.NewFromConfig(cfg)
	p.ecsClient = ecs.NewFromConfig(cfg)
	p.cloudwatchClient = cloudwatch.NewFromConfig(cfg)
	return nil
}

func (p *Provider) CreateResource(ctx context.Context, kind, name string, attrs map[string]any) (*provider.Result, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, provider.Transientf("create", kind, err)
	}

	var (
		res *provider.Result
		err error
	)
	switch kind {
	case KindResourceGroup:
		res, err = p.createResourceGroup(ctx, name, attrs)
	case KindRegistry:
		res, err = p.createRegistry(ctx, name, attrs)
	case KindCluster:
		res, err = p.createCluster(ctx, name, attrs)
	case KindVault:
		res, err = p.createVault(ctx, name, attrs)
	case KindSecret:
		res, err = p.createSecret(ctx, name, attrs)
	case KindService:
		res, err = p.createService(ctx, name, attrs)
	default:
		return nil, provider.Permanentf("create", kind, fmt.Errorf("unsupported resource kind %q", kind))
	}
	if err != nil {
		return nil, classify("create", kind, err)
	}
	return res, nil
}

func (p *Provider) UpdateResource(ctx context.Context, kind, id string, attrs map[string]any) (*provider.Result, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, provider.Transientf("update", kind, err)
	}

	var (
		res *provider.Result
		err error
	)
	switch kind {
	case KindResourceGroup:
		res, err = p.updateResourceGroup(ctx, id, attrs)
	case KindRegistry:
		res, err = p.updateRegistry(ctx, id, attrs)
	case KindCluster:
		res, err = p.updateCluster(ctx, id, attrs)
	case KindVault:
		res, err = p.updateVault(ctx, id, attrs)
	case KindSecret:
		res, err = p.updateSecret(ctx, id, attrs)
	case KindService:
		res, err = p.updateService(ctx, id, attrs)
	default:
		return nil, provider.Permanentf("update", kind, fmt.Errorf("unsupported resource kind %q", kind))
	}
	if err != nil {
		return nil, classify("update", kind, err)
	}
	return res, nil
}

func (p *Provider) DeleteResource(ctx context.Context, kind, id string) error {
	if err := p.ensureClients(ctx); err != nil {
		return provider.Transientf("delete", kind, err)
	}

	var err error
	switch kind {
	case KindResourceGroup:
		err = p.deleteResourceGroup(ctx, id)
	case KindRegistry:
		err = p.deleteRegistry(ctx, id)
	case KindCluster:
		err = p.deleteCluster(ctx, id)
	case KindVault:
		err = p.deleteVault(ctx, id)
	case KindSecret:
		err = p.deleteSecret(ctx, id)
	case KindService:
		err = p.deleteService(ctx, id)
	default:
		return provider.Permanentf("delete", kind, fmt.Errorf("unsupported resource kind %q", kind))
	}
	if err != nil {
		return classify("delete", kind, err)
	}
	return nil
}

// transientCodes are API error codes that indicate a retryable condition.
var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"LimitExceededException":                 true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalFailure":                        true,
	"InternalServerError":                    true,
	"InternalException":                      true,
	"RequestTimeout":                         true,
}

// classify wraps an AWS SDK error as transient or permanent so the
// engine knows whether retrying the call can help.
func classify(op, kind string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		if transientCodes[ae.ErrorCode()] || ae.ErrorFault() == smithy.FaultServer {
			return provider.Transientf(op, kind, err)
		}
		return provider.Permanentf(op, kind, err)
	}
	// Connection resets and timeouts surface as plain errors.
	return provider.Transientf(op, kind, err)
}

// Attribute helpers. Declared attributes arrive as a normalized map, so
// numbers are float64 and nested maps are map[string]any.

func strAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func intAttr(attrs map[string]any, key string) (int32, bool) {
	if v, ok := attrs[key].(float64); ok {
		return int32(v), true
	}
	return 0, false
}

func boolAttr(attrs map[string]any, key string) bool {
	if v, ok := attrs[key].(bool); ok {
		return v
	}
	return false
}

func strSliceAttr(attrs map[string]any, key string) []string {
	raw, ok := attrs[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tagAttr(attrs map[string]any, key string) map[string]string {
	raw, ok := attrs[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
