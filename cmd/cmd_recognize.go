package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	"github.com/sooftware/End-to-end-Speech-Recognition/metric"
	"github.com/sooftware/End-to-end-Speech-Recognition/recognizer"
)

func newRecognizeCmd() *cobra.Command {
	recognizeCmd := &cobra.Command{
		Use:     "recognize MODEL FEATURES...",
		Short:   "Transcribe feature files",
		Args:    cobra.MinimumNArgs(2),
		PreRunE: checkServerHeartbeat,
		RunE:    RecognizeHandler,
	}

	recognizeCmd.Flags().Int("beam-width", 0, "Beam search width (greedy decoding when unset)")
	recognizeCmd.Flags().StringArray("reference", nil, "Reference transcript per feature file, for error rates")

	return recognizeCmd
}

// RecognizeHandler sends feature files to the server and prints the
// transcripts.
func RecognizeHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	beamWidth, err := cmd.Flags().GetInt("beam-width")
	if err != nil {
		return err
	}

	references, err := cmd.Flags().GetStringArray("reference")
	if err != nil {
		return err
	}

	files := args[1:]
	if len(references) > 0 && len(references) != len(files) {
		return fmt.Errorf("got %d references for %d feature files", len(references), len(files))
	}

	req := &api.RecognizeRequest{Model: args[0], BeamWidth: beamWidth}
	for _, path := range files {
		f, err := recognizer.ReadFeatures(path)
		if err != nil {
			return err
		}

		req.Features = append(req.Features, matrixFromFeatures(f))
	}

	resp, err := client.Recognize(cmd.Context(), req)
	if err != nil {
		return err
	}

	return renderTranscripts(os.Stdout, files, resp.Results, references)
}

func matrixFromFeatures(f *recognizer.Features) api.FeatureMatrix {
	m := make(api.FeatureMatrix, f.Frames())
	for i := range m {
		m[i] = f.Data[i*f.Dim : (i+1)*f.Dim]
	}

	return m
}

func renderTranscripts(w io.Writer, files []string, results []api.Recognition, references []string) error {
	if len(results) != len(files) {
		return fmt.Errorf("server returned %d results for %d feature files", len(results), len(files))
	}

	headers := []string{"FILE", "TRANSCRIPT", "SCORE"}
	if len(references) > 0 {
		headers = append(headers, "CER")
	}

	var cer metric.CharacterErrorRate
	var data [][]string
	for i, res := range results {
		row := []string{filepath.Base(files[i]), res.Text, strconv.FormatFloat(res.Score, 'f', 3, 64)}
		if len(references) > 0 {
			row = append(row, strconv.FormatFloat(metric.CER(references[i], res.Text), 'f', 3, 64))
			cer.Update(references[i], res.Text)
		}

		data = append(data, row)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	if len(references) > 0 {
		fmt.Fprintf(w, "\nCER %.3f\n", cer.Rate())
	}

	return nil
}
