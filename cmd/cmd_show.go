package cmd

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sooftware/End-to-end-Speech-Recognition/envconfig"
	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
	"github.com/sooftware/End-to-end-Speech-Recognition/vocab"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show MODEL",
		Short: "Show information for a local model",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}
}

// ShowHandler prints the configuration, parameter count and vocabulary of a
// model directory.
func ShowHandler(cmd *cobra.Command, args []string) error {
	dir := filepath.Join(envconfig.Models(), args[0])

	config, err := fs.LoadConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return err
	}

	weights, err := model.LoadWeights(dir)
	if err != nil {
		return err
	}

	v, err := vocab.Load(filepath.Join(dir, "vocab.csv"))
	if err != nil {
		return err
	}

	showInfo(config, weights.ParameterCount(), v, os.Stdout)
	return nil
}

func showInfo(c fs.Config, parameters int64, v *vocab.Vocabulary, w io.Writer) {
	section := func(header string, rows [][]string) {
		fmt.Fprintln(w, " ", header)

		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		for _, row := range rows {
			table.Append(append([]string{""}, row...))
		}
		table.Render()

		fmt.Fprintln(w)
	}

	section("Model", [][]string{
		{"architecture", c.Architecture()},
		{"parameters", humanNumber(parameters)},
		{"input dim", strconv.Itoa(c.Int("input_dim", 80))},
		{"model dim", strconv.Itoa(c.Int("d_model", 512))},
		{"attention heads", strconv.Itoa(c.Int("num_heads", 8))},
		{"encoder layers", strconv.Itoa(c.Int("num_encoder_layers", 6))},
		{"decoder layers", strconv.Itoa(c.Int("num_decoder_layers", 6))},
		{"max length", strconv.Itoa(c.Int("max_length", 400))},
	})

	rows := [][]string{
		{"units", strconv.Itoa(v.Len())},
		{"pad id", strconv.Itoa(int(v.PadID()))},
		{"sos id", strconv.Itoa(int(v.SOSID()))},
		{"eos id", strconv.Itoa(int(v.EOSID()))},
	}
	if id, ok := v.BlankID(); ok {
		rows = append(rows, []string{"blank id", strconv.Itoa(int(id))})
	}
	section("Vocabulary", rows)

	if top := topUnits(v, 5); len(top) > 0 {
		section("Most frequent units", top)
	}
}

// topUnits lists the n most frequent vocabulary units with their corpus
// counts.
func topUnits(v *vocab.Vocabulary, n int) [][]string {
	type unitFreq struct {
		unit string
		freq int
	}

	var units []unitFreq
	for unit, id := range v.Units() {
		if freq := v.Frequency(id); freq > 0 {
			units = append(units, unitFreq{unit, freq})
		}
	}

	slices.SortStableFunc(units, func(a, b unitFreq) int {
		return cmp.Compare(b.freq, a.freq)
	})

	var rows [][]string
	for _, u := range units[:min(n, len(units))] {
		rows = append(rows, []string{strconv.Quote(u.unit), strconv.Itoa(u.freq)})
	}

	return rows
}

func humanNumber(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.FormatInt(n, 10)
	}
}
