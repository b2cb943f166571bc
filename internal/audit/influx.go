package audit

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

// Measurement is the InfluxDB measurement ledger records are written to
const Measurement = "ledger_events"

// Influx writes one point per record
type Influx struct {
	writer api.WriteAPIBlocking
}

// NewInflux creates an Influx recorder on top of a blocking write API
func NewInflux(writer api.WriteAPIBlocking) *Influx {
	return &Influx{writer: writer}
}

// Record implements ledger.Recorder
func (i *Influx) Record(ctx context.Context, event ledger.Event) error {
	point := influxdb2.NewPoint(Measurement,
		map[string]string{
			"kind":    string(event.Kind),
			"account": string(event.Account),
		},
		map[string]interface{}{
			"amount":   event.Amount,
			"sequence": event.Sequence,
		},
		event.At,
	)
	if err := i.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}
