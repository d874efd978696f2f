package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/provider"
)

// Workload ids are "cluster/service" so a stored id is enough to
// address the ECS service again.

func splitServiceID(id string) (cluster, service string, err error) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("malformed service id %q", id)
	}
	return id[:i], id[i+1:], nil
}

func (p *Provider) createService(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	cluster := strAttr(attrs, "cluster")
	taskDef := strAttr(attrs, "taskDefinition")
	if cluster == "" || taskDef == "" {
		return nil, fmt.Errorf("service %s requires cluster and taskDefinition attributes", name)
	}

	desired := int32(1)
	if n, ok := intAttr(attrs, "desiredCount"); ok {
		desired = n
	}

	input := &ecs.CreateServiceInput{
		ServiceName:    &name,
		Cluster:        &cluster,
		TaskDefinition: &taskDef,
		DesiredCount:   &desired,
		LaunchType:     ecstypes.LaunchTypeFargate,
	}
	if lt := strAttr(attrs, "launchType"); lt != "" {
		input.LaunchType = ecstypes.LaunchType(lt)
	}
	if subnets := strSliceAttr(attrs, "subnetIds"); len(subnets) > 0 {
		assign := ecstypes.AssignPublicIpDisabled
		if boolAttr(attrs, "assignPublicIp") {
			assign = ecstypes.AssignPublicIpEnabled
		}
		input.NetworkConfiguration = &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        subnets,
				SecurityGroups: strSliceAttr(attrs, "securityGroupIds"),
				AssignPublicIp: assign,
			},
		}
	}

	resp, err := p.ecsClient.CreateService(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return &provider.Result{
		ID: cluster + "/" + *resp.Service.ServiceName,
		Outputs: map[string]any{
			"arn":     *resp.Service.ServiceArn,
			"name":    *resp.Service.ServiceName,
			"cluster": cluster,
		},
	}, nil
}

func (p *Provider) updateService(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	cluster, service, err := splitServiceID(id)
	if err != nil {
		return nil, err
	}

	input := &ecs.UpdateServiceInput{
		Cluster: &cluster,
		Service: &service,
	}
	if taskDef := strAttr(attrs, "taskDefinition"); taskDef != "" {
		input.TaskDefinition = &taskDef
	}
	// Replica counts are owned by the autoscaler once a policy targets
	// the workload, so desiredCount is only pushed when declared.
	if n, ok := intAttr(attrs, "desiredCount"); ok {
		input.DesiredCount = &n
	}

	resp, err := p.ecsClient.UpdateService(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update service: %w", err)
	}

	return &provider.Result{
		ID: id,
		Outputs: map[string]any{
			"arn":     *resp.Service.ServiceArn,
			"name":    *resp.Service.ServiceName,
			"cluster": cluster,
		},
	}, nil
}

func (p *Provider) deleteService(ctx context.Context, id string) error {
	cluster, service, err := splitServiceID(id)
	if err != nil {
		return err
	}

	force := true
	_, err = p.ecsClient.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: &cluster,
		Service: &service,
		Force:   &force,
	})
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

func (p *Provider) SetReplicaCount(ctx context.Context, ref ir.WorkloadRef, replicas int32) error {
	if err := p.ensureClients(ctx); err != nil {
		return provider.Transientf("scale", "workload", err)
	}

	_, err := p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      &ref.Cluster,
		Service:      &ref.Service,
		DesiredCount: &replicas,
	})
	if err != nil {
		return classify("scale", "workload", err)
	}
	return nil
}

func (p *Provider) ReadReplicaCount(ctx context.Context, ref ir.WorkloadRef) (int32, error) {
	if err := p.ensureClients(ctx); err != nil {
		return 0, provider.Transientf("metrics", "workload", err)
	}

	resp, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  &ref.Cluster,
		Services: []string{ref.Service},
	})
	if err != nil {
		return 0, classify("metrics", "workload", err)
	}
	if len(resp.Services) == 0 {
		return 0, provider.Permanentf("metrics", "workload", fmt.Errorf("service %s not found", ref))
	}
	return resp.Services[0].RunningCount, nil
}

// metricNames maps policy metric names onto the ECS service metrics
// published to CloudWatch.
var metricNames = map[string]string{
	"cpu":    "CPUUtilization",
	"memory": "MemoryUtilization",
}

func (p *Provider) ReadUtilization(ctx context.Context, ref ir.WorkloadRef, metric string) (float64, error) {
	if err := p.ensureClients(ctx); err != nil {
		return 0, provider.Transientf("metrics", metric, err)
	}

	metricName, ok := metricNames[metric]
	if !ok {
		metricName = metric
	}

	period := int32(60)
	stat := "Average"
	id := "util"
	now := time.Now()
	start := now.Add(-5 * time.Minute)
	namespace := "AWS/ECS"
	clusterDim, serviceDim := "ClusterName", "ServiceName"

	resp, err := p.cloudwatchClient.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: &start,
		EndTime:   &now,
		ScanBy:    cwtypes.ScanByTimestampDescending,
		MetricDataQueries: []cwtypes.MetricDataQuery{
			{
				Id: &id,
				MetricStat: &cwtypes.MetricStat{
					Metric: &cwtypes.Metric{
						Namespace:  &namespace,
						MetricName: &metricName,
						Dimensions: []cwtypes.Dimension{
							{Name: &clusterDim, Value: &ref.Cluster},
							{Name: &serviceDim, Value: &ref.Service},
						},
					},
					Period: &period,
					Stat:   &stat,
				},
			},
		},
	})
	if err != nil {
		return 0, classify("metrics", metric, err)
	}

	for _, r := range resp.MetricDataResults {
		if len(r.Values) > 0 {
			return r.Values[0], nil
		}
	}
	return 0, provider.Transientf("metrics", metric, fmt.Errorf("no datapoints for %s", ref))
}
