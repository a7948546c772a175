package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	scoutconfig "github.com/scttfrdmn/scout/internal/config"
)

// cloudWatchBatchSize is CloudWatch's PutMetricData limit per call,
// the same constant pkg/monitoring/cloudwatch.go's publishMetricBatch
// batches against.
const cloudWatchBatchSize = 1000

// CloudWatchPublisher wraps a Writer and, after every Append, emits
// one custom metric datum per declared objective under
// AWSExportConfig.CloudWatchNS, dimensioned by trial ID — adapted
// from pkg/monitoring/cloudwatch.go's MetricsCollector, narrowed from
// its benchmark-execution/operational/cost metric families down to
// SCOuT's single ObjectiveVec per trial.
type CloudWatchPublisher struct {
	next       Appender
	client     *cloudwatch.Client
	namespace  string
	objectives []scoutconfig.Objective
}

// NewCloudWatchPublisher wraps next (the base Writer, or another
// mirror) with CloudWatch metric publication.
func NewCloudWatchPublisher(ctx context.Context, next Appender, cfg *scoutconfig.AWSExportConfig, objectives []scoutconfig.Objective) (*CloudWatchPublisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive_error: loading AWS configuration: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg)
	return &CloudWatchPublisher{
		next:       next,
		client:     client,
		namespace:  cfg.CloudWatchNS,
		objectives: objectives,
	}, nil
}

// Append delegates to the wrapped Appender, then publishes one metric
// datum per objective for this trial.
func (p *CloudWatchPublisher) Append(r Row) error {
	if err := p.next.Append(r); err != nil {
		return err
	}
	return p.publish(context.Background(), r)
}

// Close delegates to the wrapped Appender.
func (p *CloudWatchPublisher) Close() error { return p.next.Close() }

func (p *CloudWatchPublisher) publish(ctx context.Context, r Row) error {
	timestamp := time.Now()
	dims := []types.Dimension{
		{Name: aws.String("TrialID"), Value: aws.String(fmt.Sprintf("%d", r.TrialID))},
	}

	var data []types.MetricDatum
	for i, obj := range p.objectives {
		if i >= len(r.ObjectiveVec) {
			break
		}
		data = append(data, types.MetricDatum{
			MetricName: aws.String(obj.Metric),
			Value:      aws.Float64(r.ObjectiveVec[i]),
			Unit:       types.StandardUnitNone,
			Timestamp:  aws.Time(timestamp),
			Dimensions: dims,
		})
	}
	return p.publishBatch(ctx, data)
}

func (p *CloudWatchPublisher) publishBatch(ctx context.Context, data []types.MetricDatum) error {
	if len(data) == 0 {
		return nil
	}
	for i := 0; i < len(data); i += cloudWatchBatchSize {
		end := i + cloudWatchBatchSize
		if end > len(data) {
			end = len(data)
		}
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[i:end],
		})
		if err != nil {
			return fmt.Errorf("archive_error: publishing CloudWatch metrics: %w", err)
		}
	}
	return nil
}
