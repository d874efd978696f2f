package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/shopforge-io/shopforge/internal/provider"
)

func (p *Provider) createCluster(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	roleArn := strAttr(attrs, "roleArn")
	if roleArn == "" {
		return nil, fmt.Errorf("cluster %s requires a roleArn attribute", name)
	}

	public := true
	if _, ok := attrs["endpointPublicAccess"]; ok {
		public = boolAttr(attrs, "endpointPublicAccess")
	}
	private := boolAttr(attrs, "endpointPrivateAccess")

	input := &eks.CreateClusterInput{
		Name:    &name,
		RoleArn: &roleArn,
		ResourcesVpcConfig: &types.VpcConfigRequest{
			SubnetIds:             strSliceAttr(attrs, "subnetIds"),
			SecurityGroupIds:      strSliceAttr(attrs, "securityGroupIds"),
			EndpointPublicAccess:  &public,
			EndpointPrivateAccess: &private,
		},
		Tags: tagAttr(attrs, "tags"),
	}
	if version := strAttr(attrs, "version"); version != "" {
		input.Version = &version
	}
	if keyArn := strAttr(attrs, "encryptionKeyArn"); keyArn != "" {
		input.EncryptionConfig = []types.EncryptionConfig{
			{
				Provider:  &types.Provider{KeyArn: &keyArn},
				Resources: []string{"secrets"},
			},
		}
	}

	resp, err := p.eksClient.CreateCluster(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	outputs := map[string]any{
		"arn":  *resp.Cluster.Arn,
		"name": *resp.Cluster.Name,
	}
	if resp.Cluster.Endpoint != nil {
		outputs["endpoint"] = *resp.Cluster.Endpoint
	}
	if resp.Cluster.Version != nil {
		outputs["version"] = *resp.Cluster.Version
	}

	return &provider.Result{ID: *resp.Cluster.Name, Outputs: outputs}, nil
}

func (p *Provider) updateCluster(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	desc, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: &id})
	if err != nil {
		return nil, fmt.Errorf("failed to describe cluster: %w", err)
	}

	if version := strAttr(attrs, "version"); version != "" && desc.Cluster.Version != nil && version != *desc.Cluster.Version {
		_, err := p.eksClient.UpdateClusterVersion(ctx, &eks.UpdateClusterVersionInput{
			Name:    &id,
			Version: &version,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update cluster version: %w", err)
		}
	}

	public := true
	if _, ok := attrs["endpointPublicAccess"]; ok {
		public = boolAttr(attrs, "endpointPublicAccess")
	}
	private := boolAttr(attrs, "endpointPrivateAccess")
	if desc.Cluster.ResourcesVpcConfig != nil &&
		(desc.Cluster.ResourcesVpcConfig.EndpointPublicAccess != public ||
			desc.Cluster.ResourcesVpcConfig.EndpointPrivateAccess != private) {
		_, err := p.eksClient.UpdateClusterConfig(ctx, &eks.UpdateClusterConfigInput{
			Name: &id,
			ResourcesVpcConfig: &types.VpcConfigRequest{
				EndpointPublicAccess:  &public,
				EndpointPrivateAccess: &private,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update cluster config: %w", err)
		}
	}

	outputs := map[string]any{
		"arn":  *desc.Cluster.Arn,
		"name": *desc.Cluster.Name,
	}
	if desc.Cluster.Endpoint != nil {
		outputs["endpoint"] = *desc.Cluster.Endpoint
	}
	if desc.Cluster.Version != nil {
		outputs["version"] = *desc.Cluster.Version
	}

	return &provider.Result{ID: id, Outputs: outputs}, nil
}

func (p *Provider) deleteCluster(ctx context.Context, id string) error {
	_, err := p.eksClient.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: &id})
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	return nil
}
