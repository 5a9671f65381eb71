// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import "strings"

// Pricing is a model's list price in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// pricingTable is matched by substring in order; the first hit wins.
var pricingTable = []struct {
	match   string
	pricing Pricing
}{
	{"opus", Pricing{15.0, 75.0}},
	{"haiku", Pricing{0.8, 4.0}},
	{"sonnet", Pricing{3.0, 15.0}},
	{"gpt-4o-mini", Pricing{0.15, 0.6}},
	{"gpt-4o", Pricing{2.5, 10.0}},
	{"gpt-4.1-mini", Pricing{0.4, 1.6}},
	{"gpt-4.1", Pricing{2.0, 8.0}},
}

// PriceFor returns the pricing of model. ok is false for unknown models.
func PriceFor(model string) (p Pricing, ok bool) {
	m := strings.ToLower(model)
	for _, entry := range pricingTable {
		if strings.Contains(m, entry.match) {
			return entry.pricing, true
		}
	}
	return Pricing{}, false
}

// Cost returns the USD cost of a call, and false when the model has no
// known price.
func Cost(model string, inputTokens, outputTokens int) (float64, bool) {
	p, ok := PriceFor(model)
	if !ok {
		return 0, false
	}
	return float64(inputTokens)*p.InputPerMillion/1_000_000 +
		float64(outputTokens)*p.OutputPerMillion/1_000_000, true
}
