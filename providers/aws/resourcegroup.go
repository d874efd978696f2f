package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/resourcegroups"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroups/types"

	"github.com/shopforge-io/shopforge/internal/provider"
)

// tagQuery builds the TAG_FILTERS_1_0 query that scopes a group to
// resources carrying the group's environment tag.
func tagQuery(attrs map[string]any) (string, error) {
	tags := tagAttr(attrs, "tags")
	if len(tags) == 0 {
		tags = map[string]string{"shopforge:group": strAttr(attrs, "environment")}
	}

	type tagFilter struct {
		Key    string   `json:"Key"`
		Values []string `json:"Values"`
	}
	query := struct {
		ResourceTypeFilters []string    `json:"ResourceTypeFilters"`
		TagFilters          []tagFilter `json:"TagFilters"`
	}{
		ResourceTypeFilters: []string{"AWS::AllSupported"},
	}
	for k, v := range tags {
		query.TagFilters = append(query.TagFilters, tagFilter{Key: k, Values: []string{v}})
	}

	raw, err := json.Marshal(query)
	if err != nil {
		return "", fmt.Errorf("failed to build group query: %w", err)
	}
	return string(raw), nil
}

func (p *Provider) createResourceGroup(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	query, err := tagQuery(attrs)
	if err != nil {
		return nil, err
	}

	input := &resourcegroups.CreateGroupInput{
		Name: &name,
		ResourceQuery: &types.ResourceQuery{
			Type:  types.QueryTypeTagFilters10,
			Query: &query,
		},
		Tags: tagAttr(attrs, "tags"),
	}
	if desc := strAttr(attrs, "description"); desc != "" {
		input.Description = &desc
	}

	resp, err := p.resourcegroupsClient.CreateGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource group: %w", err)
	}

	return &provider.Result{
		ID: *resp.Group.Name,
		Outputs: map[string]any{
			"arn":  *resp.Group.GroupArn,
			"name": *resp.Group.Name,
		},
	}, nil
}

func (p *Provider) updateResourceGroup(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	if desc := strAttr(attrs, "description"); desc != "" {
		_, err := p.resourcegroupsClient.UpdateGroup(ctx, &resourcegroups.UpdateGroupInput{
			GroupName:   &id,
			Description: &desc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update resource group: %w", err)
		}
	}

	query, err := tagQuery(attrs)
	if err != nil {
		return nil, err
	}
	resp, err := p.resourcegroupsClient.UpdateGroupQuery(ctx, &resourcegroups.UpdateGroupQueryInput{
		GroupName: &id,
		ResourceQuery: &types.ResourceQuery{
			Type:  types.QueryTypeTagFilters10,
			Query: &query,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update resource group query: %w", err)
	}

	return &provider.Result{
		ID: id,
		Outputs: map[string]any{
			"name": *resp.GroupQuery.GroupName,
		},
	}, nil
}

func (p *Provider) deleteResourceGroup(ctx context.Context, id string) error {
	_, err := p.resourcegroupsClient.DeleteGroup(ctx, &resourcegroups.DeleteGroupInput{
		GroupName: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete resource group: %w", err)
	}
	return nil
}
