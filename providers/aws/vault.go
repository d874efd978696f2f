package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/shopforge-io/shopforge/internal/provider"
)

// A vault is a customer-managed KMS key behind a stable alias. Secrets
// created inside the vault are encrypted with its key.

const vaultAliasPrefix = "alias/shopforge-"

func (p *Provider) createVault(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	desc := strAttr(attrs, "description")
	if desc == "" {
		desc = fmt.Sprintf("shopforge vault %s", name)
	}

	input := &kms.CreateKeyInput{
		Description: &desc,
		KeySpec:     kmstypes.KeySpecSymmetricDefault,
		KeyUsage:    kmstypes.KeyUsageTypeEncryptDecrypt,
	}
	for k, v := range tagAttr(attrs, "tags") {
		key, value := k, v
		input.Tags = append(input.Tags, kmstypes.Tag{TagKey: &key, TagValue: &value})
	}

	resp, err := p.kmsClient.CreateKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault key: %w", err)
	}

	alias := vaultAliasPrefix + name
	_, err = p.kmsClient.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   &alias,
		TargetKeyId: resp.KeyMetadata.KeyId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vault alias: %w", err)
	}

	return &provider.Result{
		ID: *resp.KeyMetadata.KeyId,
		Outputs: map[string]any{
			"keyId":  *resp.KeyMetadata.KeyId,
			"keyArn": *resp.KeyMetadata.Arn,
			"alias":  alias,
		},
	}, nil
}

func (p *Provider) updateVault(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	if desc := strAttr(attrs, "description"); desc != "" {
		_, err := p.kmsClient.UpdateKeyDescription(ctx, &kms.UpdateKeyDescriptionInput{
			KeyId:       &id,
			Description: &desc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update vault key: %w", err)
		}
	}

	desc, err := p.kmsClient.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: &id})
	if err != nil {
		return nil, fmt.Errorf("failed to describe vault key: %w", err)
	}

	return &provider.Result{
		ID: id,
		Outputs: map[string]any{
			"keyId":  *desc.KeyMetadata.KeyId,
			"keyArn": *desc.KeyMetadata.Arn,
		},
	}, nil
}

func (p *Provider) deleteVault(ctx context.Context, id string) error {
	aliases, err := p.kmsClient.ListAliases(ctx, &kms.ListAliasesInput{KeyId: &id})
	if err == nil {
		for _, a := range aliases.Aliases {
			if a.AliasName != nil && strings.HasPrefix(*a.AliasName, vaultAliasPrefix) {
				_, _ = p.kmsClient.DeleteAlias(ctx, &kms.DeleteAliasInput{AliasName: a.AliasName})
			}
		}
	}

	// KMS enforces a minimum 7 day deletion window.
	window := int32(7)
	_, err = p.kmsClient.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               &id,
		PendingWindowInDays: &window,
	})
	if err != nil {
		return fmt.Errorf("failed to schedule vault key deletion: %w", err)
	}
	return nil
}

func (p *Provider) createSecret(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	input := &secretsmanager.CreateSecretInput{
		Name: &name,
	}
	if desc := strAttr(attrs, "description"); desc != "" {
		input.Description = &desc
	}
	if keyID := strAttr(attrs, "kmsKeyId"); keyID != "" {
		input.KmsKeyId = &keyID
	}
	if value := strAttr(attrs, "value"); value != "" {
		input.SecretString = &value
	}
	for k, v := range tagAttr(attrs, "tags") {
		key, value := k, v
		input.Tags = append(input.Tags, smtypes.Tag{Key: &key, Value: &value})
	}

	resp, err := p.secretsmanagerClient.CreateSecret(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret: %w", err)
	}

	return &provider.Result{
		ID: *resp.ARN,
		Outputs: map[string]any{
			"arn":  *resp.ARN,
			"name": *resp.Name,
		},
	}, nil
}

func (p *Provider) updateSecret(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	input := &secretsmanager.UpdateSecretInput{
		SecretId: &id,
	}
	if desc := strAttr(attrs, "description"); desc != "" {
		input.Description = &desc
	}
	if keyID := strAttr(attrs, "kmsKeyId"); keyID != "" {
		input.KmsKeyId = &keyID
	}
	if value := strAttr(attrs, "value"); value != "" {
		input.SecretString = &value
	}

	resp, err := p.secretsmanagerClient.UpdateSecret(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update secret: %w", err)
	}

	return &provider.Result{
		ID: *resp.ARN,
		Outputs: map[string]any{
			"arn":  *resp.ARN,
			"name": *resp.Name,
		},
	}, nil
}

func (p *Provider) deleteSecret(ctx context.Context, id string) error {
	// ForceDeleteWithoutRecovery is safer for dev
	force := true
	_, err := p.secretsmanagerClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   &id,
		ForceDeleteWithoutRecovery: &force,
	})
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
