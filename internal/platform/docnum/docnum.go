// Package docnum issues human-readable document numbers for patient and
// insurer invoices. Numbers are unique across every node that runs with a
// distinct node id.
package docnum

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	PrefixPatientInvoice   = "FAC"
	PrefixInsuranceInvoice = "FASS"
)

// Generator wraps a snowflake node.
type Generator struct {
	node *snowflake.Node
	now  func() time.Time
}

// New returns a generator for nodeID in [0, 1023].
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node, now: time.Now}, nil
}

// Next returns PREFIX-YYYYMM-ID, e.g. FAC-202610-1F3K9Q2B7A. The id part is
// the base36 snowflake id, so numbers sort by issue time within a prefix.
func (g *Generator) Next(prefix string) string {
	id := g.node.Generate()
	return fmt.Sprintf("%s-%s-%s", prefix, g.now().UTC().Format("200601"), strings.ToUpper(id.Base36()))
}
