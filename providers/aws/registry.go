package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/shopforge-io/shopforge/internal/provider"
)

func (p *Provider) createRegistry(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	mutability := types.ImageTagMutabilityImmutable
	if m := strAttr(attrs, "imageTagMutability"); m != "" {
		mutability = types.ImageTagMutability(m)
	}

	input := &ecr.CreateRepositoryInput{
		RepositoryName:     &name,
		ImageTagMutability: mutability,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: boolAttr(attrs, "scanOnPush"),
		},
	}
	if boolAttr(attrs, "encrypted") {
		input.EncryptionConfiguration = &types.EncryptionConfiguration{
			EncryptionType: types.EncryptionTypeKms,
		}
		if key := strAttr(attrs, "kmsKey"); key != "" {
			input.EncryptionConfiguration.KmsKey = &key
		}
	}
	for k, v := range tagAttr(attrs, "tags") {
		key, value := k, v
		input.Tags = append(input.Tags, types.Tag{Key: &key, Value: &value})
	}

	resp, err := p.ecrClient.CreateRepository(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	return &provider.Result{
		ID: *resp.Repository.RepositoryName,
		Outputs: map[string]any{
			"arn":  *resp.Repository.RepositoryArn,
			"uri":  *resp.Repository.RepositoryUri,
			"name": *resp.Repository.RepositoryName,
		},
	}, nil
}

func (p *Provider) updateRegistry(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	if m := strAttr(attrs, "imageTagMutability"); m != "" {
		_, err := p.ecrClient.PutImageTagMutability(ctx, &ecr.PutImageTagMutabilityInput{
			RepositoryName:     &id,
			ImageTagMutability: types.ImageTagMutability(m),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update tag mutability: %w", err)
		}
	}

	_, err := p.ecrClient.PutImageScanningConfiguration(ctx, &ecr.PutImageScanningConfigurationInput{
		RepositoryName: &id,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: boolAttr(attrs, "scanOnPush"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update scanning configuration: %w", err)
	}

	desc, err := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{id},
	})
	if err != nil || len(desc.Repositories) == 0 {
		return nil, fmt.Errorf("failed to describe repository: %w", err)
	}
	repo := desc.Repositories[0]

	return &provider.Result{
		ID: id,
		Outputs: map[string]any{
			"arn":  *repo.RepositoryArn,
			"uri":  *repo.RepositoryUri,
			"name": *repo.RepositoryName,
		},
	}, nil
}

func (p *Provider) deleteRegistry(ctx context.Context, id string) error {
	_, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: &id,
		Force:          true, // Defaulting to force delete for convenience
	})
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}
