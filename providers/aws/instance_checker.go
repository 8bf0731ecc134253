package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// ec2API is the subset of the EC2 client used for instance lookups
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// InstanceChecker looks up the EC2 state of consumer hosts
type InstanceChecker struct {
	ec2Client ec2API
}

// NewInstanceChecker creates an instance checker
func NewInstanceChecker(client ec2API) *InstanceChecker {
	return &InstanceChecker{ec2Client: client}
}

// InstanceState returns the EC2 state name of an instance, e.g. "running" or "terminated"
func (c *InstanceChecker) InstanceState(ctx context.Context, instanceID string) (string, error) {
	result, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("describe instance %s: %w", instanceID, err)
	}

	for _, reservation := range result.Reservations {
		for _, instance := range reservation.Instances {
			if instance.State != nil {
				return string(instance.State.Name), nil
			}
		}
	}
	return "", fmt.Errorf("instance %s not found", instanceID)
}
