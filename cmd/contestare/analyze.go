package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abelbrown/contestare/internal/analysis"
	"github.com/abelbrown/contestare/internal/document"
)

var (
	colorPrimary = lipgloss.Color("62")  // Purple
	colorMuted   = lipgloss.Color("241") // Gray
	colorGood    = lipgloss.Color("78")  // Green
	colorFair    = lipgloss.Color("214") // Amber
	colorPoor    = lipgloss.Color("203") // Red

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(colorPrimary).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(14)

	ruleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

const barWidth = 30

// noticeFlags holds the facts shared by analyze and render.
type noticeFlags struct {
	raw    analysis.RawFacts
	notice string
	plate  string
	seed   uint64
}

func (f *noticeFlags) register(cmd *cobra.Command, withLetter bool) {
	fl := cmd.Flags()
	fl.StringVarP(&f.raw.InfractionType, "type", "t", "", "infraction type, e.g. \"Excesso de velocidade\"")
	fl.StringVar(&f.raw.DateInfraction, "date", "", "infraction date (YYYY-MM-DD)")
	fl.StringVar(&f.raw.DateNotification, "notified", "", "notification date (YYYY-MM-DD)")
	fl.StringVar(&f.raw.IssuingAgency, "agency", "", "issuing agency")
	fl.StringVar(&f.raw.Location, "location", "", "where the infraction happened")
	fl.Float64Var(&f.raw.Value, "value", 0, "fine value in BRL")
	fl.Uint64Var(&f.seed, "seed", 0, "fixed seed for the jitter (0 = random)")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("date")
	cmd.MarkFlagRequired("notified")

	if withLetter {
		fl.StringVar(&f.notice, "notice", "", "notice (auto) number")
		fl.StringVar(&f.plate, "plate", "", "vehicle plate")
		cmd.MarkFlagRequired("notice")
		cmd.MarkFlagRequired("plate")
	}
}

func (f *noticeFlags) engine() *analysis.Engine {
	if f.seed == 0 {
		return analysis.NewEngine()
	}
	return analysis.NewEngine(analysis.WithSource(analysis.NewSeededSource(f.seed)))
}

func analyzeCmd() *cobra.Command {
	var f noticeFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a notice and list the applicable arguments",
		Example: `  contestare analyze --type "Excesso de velocidade" --date 2024-01-10 \
    --notified 2024-03-20 --agency "Prefeitura" --location "Rodovia BR-101" --value 880.41`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := f.engine().AnalyzeRaw(f.raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printReport(out, f.raw, res)
			return nil
		},
	}
	f.register(cmd, false)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func renderCmd() *cobra.Command {
	var f noticeFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Score a notice and print its contest letter",
		RunE: func(cmd *cobra.Command, args []string) error {
			facts, err := analysis.ParseFacts(f.raw)
			if err != nil {
				return err
			}
			res := f.engine().Analyze(facts)
			letter := document.Render(document.Infraction{
				NoticeNumber:   f.notice,
				VehiclePlate:   f.plate,
				InfractionType: f.raw.InfractionType,
				IssuingAgency:  f.raw.IssuingAgency,
				DateInfraction: facts.DateInfraction,
				Value:          f.raw.Value,
			}, res.LegalArguments())

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, letter)
			fmt.Fprintln(cmd.ErrOrStderr(), "suggested file name:", document.FileName(f.notice, uuid.New()))
			return nil
		},
	}
	f.register(cmd, true)
	return cmd
}

// printReport writes a styled summary of one analysis.
func printReport(w io.Writer, raw analysis.RawFacts, res analysis.Result) {
	fmt.Fprintln(w, titleStyle.Render("Análise de contestação"))
	fmt.Fprintln(w)

	row := func(label, value string) {
		fmt.Fprintln(w, labelStyle.Render(label)+value)
	}
	row("Infração", raw.InfractionType)
	if raw.IssuingAgency != "" {
		row("Órgão", raw.IssuingAgency)
	}
	if raw.Value > 0 {
		row("Valor", fmt.Sprintf("R$ %.2f", raw.Value))
	}
	row("Pontos", fmt.Sprintf("%d (ajuste %+d)", res.Points, res.Jitter))
	row("Chance", probabilityBar(res.Probability))
	if len(res.Matched) > 0 {
		row("Regras", ruleStyle.Render(strings.Join(res.Matched, ", ")))
	}
	fmt.Fprintln(w)

	var b strings.Builder
	for i, arg := range res.Arguments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%2d. %s", i+1, arg)
	}
	fmt.Fprintln(w, boxStyle.Render(b.String()))
}

// probabilityBar draws p as a colored bar followed by the percentage.
func probabilityBar(p int) string {
	filled := p * barWidth / 100
	color := colorPoor
	switch {
	case p >= 70:
		color = colorGood
	case p >= 40:
		color = colorFair
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(colorMuted).Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %d%%", bar, p)
}
