package calculator

import (
	"context"
	"fmt"
	"strings"
)

// Engine is one interchangeable backend of the profit and shipping
// calculation. The backend is fixed at construction time.
type Engine interface {
	CalculateProfit(ctx context.Context, in Input) (Result, error)
	CalculateShipping(ctx context.Context, weight float64, dims Dimensions, listPrice float64, dt DeliveryType) (float64, error)
	ValidateConnection(ctx context.Context) bool
	EngineInfo() Info
	Close() error
}

// BatchCalculator is implemented by engines that can amortise per-call
// overhead over many inputs. Per-item failures are reported in BatchItem.Err.
type BatchCalculator interface {
	CalculateBatch(ctx context.Context, inputs []Input) []BatchItem
}

// Info describes an engine for logs and callers.
type Info struct {
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Capabilities []string          `json:"capabilities"`
	Details      map[string]string `json:"details,omitempty"`
}

// Kind identifies a backend family.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindRule    Kind = "rule"
	KindFormula Kind = "formula"
	KindBridge  Kind = "bridge"
)

var kindAliases = map[string]Kind{
	"auto":           KindAuto,
	"rule":           KindRule,
	"rules":          KindRule,
	"rule_engine":    KindRule,
	"formula":        KindFormula,
	"formula_engine": KindFormula,
	"bridge":         KindBridge,
	"bridge_engine":  KindBridge,
	"excel":          KindBridge,
}

// ParseKind normalises an engine identifier. Unknown identifiers are an error.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown engine %q", s)
}

func (k Kind) String() string { return string(k) }

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Concrete reports whether k names a real backend rather than KindAuto.
func (k Kind) Concrete() bool {
	return k == KindRule || k == KindFormula || k == KindBridge
}

// Capability names reported in Info.Capabilities.
const (
	CapabilityProfit     = "profit"
	CapabilityShipping   = "shipping"
	CapabilityBatch      = "batch"
	CapabilityValidation = "validation"
	CapabilityCache      = "result_cache"
)
