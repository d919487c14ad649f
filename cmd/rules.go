/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/config"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/matcher"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/rules"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// evalInput is the sample parcel "rules eval" runs through the engine.
type evalInput struct {
	barcode  string
	weight   float64
	length   float64
	width    float64
	height   float64
	response string
}

type evalResult struct {
	Matched bool   `json:"matched"`
	ChuteID int64  `json:"chute_id,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
}

func rulePath(app *sorterInstance, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return app.cnf.Rules.Path
}

func checkRules(w io.Writer, path string) error {
	set, err := config.LoadRuleSet(path)
	if err != nil {
		return err
	}
	engine := rules.NewEngine(nil)
	n := engine.Load(set)
	_, err = fmt.Fprintf(w, "%s: %d rules, %d enabled, %d chutes\n", path, len(set.Rules), n, len(set.Chutes))
	return err
}

func evalRules(w io.Writer, path string, in evalInput) (evalResult, error) {
	set, err := config.LoadRuleSet(path)
	if err != nil {
		return evalResult{}, err
	}
	engine := rules.NewEngine(nil)
	engine.Load(set)

	input := matcher.Input{
		Parcel: model.ParcelInfo{Barcode: in.barcode, DetectedAt: time.Now()},
		Dws: &model.DwsData{
			Barcode: in.barcode,
			Weight:  in.weight,
			Length:  in.length,
			Width:   in.width,
			Height:  in.height,
		},
	}
	if in.response != "" {
		input.ThirdParty = &model.ThirdPartyResponse{Provider: "cli", Success: true, Body: in.response}
	}

	decision, ok := engine.Evaluate(input)
	result := evalResult{Matched: ok, ChuteID: decision.ChuteID, RuleID: decision.RuleID}
	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return result, err
	}
	_, err = fmt.Fprintln(w, string(data))
	return result, err
}

// rulesCommands returns the rule-set tooling: "rules check" and "rules eval".
func rulesCommands(app *sorterInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "validate and try out sorting rules",
	}

	check := &cobra.Command{
		Use:   "check [file]",
		Short: "validate a rule file, defaulting to rules.path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkRules(cmd.OutOrStdout(), rulePath(app, args))
		},
	}

	var in evalInput
	eval := &cobra.Command{
		Use:   "eval [file]",
		Short: "evaluate a sample parcel against a rule file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := evalRules(cmd.OutOrStdout(), rulePath(app, args), in)
			return err
		},
	}
	eval.Flags().StringVar(&in.barcode, "barcode", "", "scanned barcode")
	eval.Flags().Float64Var(&in.weight, "weight", 0, "weight in grams")
	eval.Flags().Float64Var(&in.length, "length", 0, "length in millimetres")
	eval.Flags().Float64Var(&in.width, "width", 0, "width in millimetres")
	eval.Flags().Float64Var(&in.height, "height", 0, "height in millimetres")
	eval.Flags().StringVar(&in.response, "response", "", "third-party response body")

	cmd.AddCommand(check, eval)
	return cmd
}
