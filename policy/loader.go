package policy

import (
	"os"

	"github.com/costguard/costguard/ctlerrors"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of the full policy configuration file
// (spec §6): a single YAML document carrying budgets, routing_policies and
// pricing side by side.
type document struct {
	Budgets         []BudgetDoc        `yaml:"budgets"`
	RoutingPolicies []RoutingPolicyDoc `yaml:"routing_policies"`
	Pricing         PricingDoc         `yaml:"pricing"`
}

// YAMLFileSource is a Source backed by a single YAML file on disk, grounded
// on the teacher's config/watcher.go file-based config idiom. It re-reads
// the file from disk on every Load* call; Store is responsible for caching
// and reload cadence.
type YAMLFileSource struct {
	Path string
}

// NewYAMLFileSource returns a Source reading policy documents from path.
func NewYAMLFileSource(path string) *YAMLFileSource {
	return &YAMLFileSource{Path: path}
}

func (y *YAMLFileSource) read() (*document, error) {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return nil, ctlerrors.New(ctlerrors.ErrPolicyLoad, "read policy file "+y.Path).WithCause(err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ctlerrors.New(ctlerrors.ErrPolicyLoad, "parse policy file "+y.Path).WithCause(err)
	}
	return &doc, nil
}

// LoadBudgets implements Source.
func (y *YAMLFileSource) LoadBudgets() ([]BudgetDoc, error) {
	doc, err := y.read()
	if err != nil {
		return nil, err
	}
	return doc.Budgets, nil
}

// LoadRoutingPolicies implements Source.
func (y *YAMLFileSource) LoadRoutingPolicies() ([]RoutingPolicyDoc, error) {
	doc, err := y.read()
	if err != nil {
		return nil, err
	}
	return doc.RoutingPolicies, nil
}

// LoadPricing implements Source.
func (y *YAMLFileSource) LoadPricing() (PricingDoc, error) {
	doc, err := y.read()
	if err != nil {
		return PricingDoc{}, err
	}
	return doc.Pricing, nil
}

// StaticSource is an in-memory Source whose documents are set
// programmatically rather than read from a file on disk; the package's
// tests use it.
type StaticSource struct {
	Budgets  []BudgetDoc
	Routing  []RoutingPolicyDoc
	Pricing  PricingDoc
}

// LoadBudgets implements Source.
func (s *StaticSource) LoadBudgets() ([]BudgetDoc, error) { return s.Budgets, nil }

// LoadRoutingPolicies implements Source.
func (s *StaticSource) LoadRoutingPolicies() ([]RoutingPolicyDoc, error) { return s.Routing, nil }

// LoadPricing implements Source.
func (s *StaticSource) LoadPricing() (PricingDoc, error) { return s.Pricing, nil }
