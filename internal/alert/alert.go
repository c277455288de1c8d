// Package alert vyhodnocuje prahová pravidla nad zvalidovanými měřeními.
//
// Evaluátor je čistá funkce nad snapshotem pravidel: žádné IO, žádný stav,
// proto jde testovat bez MQTT i bez databáze. Tabulku pravidel lze za běhu
// vyměnit (Replace, LoadFile), rozpracované vyhodnocení vždy dočte starý snapshot.
//
// Na jedno měření vracíme nejvýš jeden alert: vyhrává první pravidlo
// v pořadí tabulky, které je porušené. Více současných překročení se
// neskládá; je to známé zjednodušení kvůli jednoduchému fan-outu.
package alert

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// Alert je odvozená, neperzistovaná anotace měření. Žije jen do broadcastu.
type Alert struct {
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
}

// Rule je jedno prahové pravidlo. Porušení je OSTRE: value > Above nebo value < Below.
type Rule struct {
	Name   string   `yaml:"name"`
	Metric string   `yaml:"metric"`
	Above  *float64 `yaml:"above"`
	Below  *float64 `yaml:"below"`
	Kind   string   `yaml:"kind"`
	Unit   string   `yaml:"unit"`
}

// Validate kontroluje, že pravidlo dává smysl.
func (r Rule) Validate() error {
	if r.Metric == "" {
		return fmt.Errorf("rule %q: metric is required", r.Name)
	}
	if r.Above == nil && r.Below == nil {
		return fmt.Errorf("rule %q: at least one of above/below is required", r.Name)
	}
	return nil
}

func (r Rule) breached(v float64) (bool, string) {
	if r.Above != nil && v > *r.Above {
		return true, "high"
	}
	if r.Below != nil && v < *r.Below {
		return true, "low"
	}
	return false, ""
}

// DefaultRules vrací výchozí tabulku: teplota nad prahem = warning.
func DefaultRules(tempThreshold float64) []Rule {
	return []Rule{{
		Name:   "high-temperature",
		Metric: "temperature",
		Above:  &tempThreshold,
		Kind:   "warning",
		Unit:   "°C",
	}}
}

// Evaluator drží aktuální tabulku pravidel.
type Evaluator struct {
	rules atomic.Pointer[[]Rule]
}

// NewEvaluator vytvoří evaluátor s danou tabulkou.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	e := &Evaluator{}
	if err := e.Replace(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Replace atomicky vymění tabulku pravidel. Neplatná tabulka se nepoužije.
func (e *Evaluator) Replace(rules []Rule) error {
	snapshot := make([]Rule, len(rules))
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if r.Kind == "" {
			r.Kind = "warning"
		}
		snapshot[i] = r
	}
	e.rules.Store(&snapshot)
	return nil
}

// Rules vrací kopii aktuální tabulky.
func (e *Evaluator) Rules() []Rule {
	p := e.rules.Load()
	if p == nil {
		return nil
	}
	return append([]Rule(nil), (*p)...)
}

// Evaluate vrátí první porušené pravidlo jako Alert, jinak nil.
func (e *Evaluator) Evaluate(r telemetry.Reading) *Alert {
	p := e.rules.Load()
	if p == nil {
		return nil
	}

	for _, rule := range *p {
		v, ok := r.Measurements.Field(rule.Metric)
		if !ok {
			continue
		}
		if hit, direction := rule.breached(v); hit {
			return &Alert{
				Kind:    rule.Kind,
				Message: fmt.Sprintf("Device %s %s %s: %s%s", r.DeviceID, direction, rule.Metric, formatValue(v), rule.Unit),
				Metric:  rule.Metric,
				Value:   v,
			}
		}
	}
	return nil
}

// formatValue tiskne 40 jako "40" a 40.25 jako "40.25" (bez zbytečných nul).
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ErrNoRulesFile vrací LoadFile, když cesta k souboru není nastavená.
var ErrNoRulesFile = errors.New("alert rules file not configured")

// ParseRules načte tabulku z YAML dokumentu.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("alert rules file contains no rules")
	}
	for _, r := range f.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

// LoadFile přečte YAML soubor a vymění tabulku.
func (e *Evaluator) LoadFile(path string) error {
	if path == "" {
		return ErrNoRulesFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read alert rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return err
	}
	return e.Replace(rules)
}
