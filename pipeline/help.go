package pipeline

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"

	"go.viam.com/fusion/input"
)

var (
	onColor  = color.New(color.FgGreen, color.Bold)
	offColor = color.New(color.FgRed)
)

func onOff(v bool) string {
	if v {
		return onColor.Sprint("ON")
	}
	return offColor.Sprint("OFF")
}

// HelpTable renders bindings as a table of keys and what they do. Keys issuing the same command
// share a row.
func HelpTable(bindings []Binding) string {
	keys := lo.GroupBy(bindings, func(b Binding) string { return b.Description })
	order := lo.Uniq(lo.Map(bindings, func(b Binding, _ int) string { return b.Description }))

	t := table.NewWriter()
	t.SetTitle("Fusion hotkeys")
	t.AppendHeader(table.Row{"Key", "Action"})
	for _, desc := range order {
		names := lo.Map(keys[desc], func(b Binding, _ int) string { return keyName(b.Key) })
		t.AppendRow(table.Row{strings.Join(names, ", "), desc})
	}
	return t.Render()
}

func keyName(c input.Control) string {
	if len(c) == 1 {
		return strings.ToUpper(string(c))
	}
	return string(c)
}

// StatusTable renders the current modes of the pipeline.
func StatusTable(snap Snapshot) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Mode", "State"})
	t.AppendRows([]table.Row{
		{"registration", onOff(snap.Registration)},
		{"color integration", onOff(snap.ColorIntegration)},
		{"scene painting", onOff(snap.ScenePainting)},
		{"independent camera", onOff(snap.IndependentCamera)},
		{"texture extraction", onOff(snap.TextureExtraction)},
		{"extract normals", onOff(snap.Normals)},
		{"volume bounds", onOff(snap.VolumeBounds)},
		{"download volume on cloud extraction", onOff(snap.VolumeScan)},
		{"cloud extraction mode", snap.ExtractionMode.String()},
		{"frames", fmt.Sprint(snap.FrameCounter)},
	})
	return t.Render()
}

// PrintHelp writes the hotkeys and the current modes.
func (cp *CommandProcessor) PrintHelp() error {
	_, err := fmt.Fprintf(cp.out, "\n%s\n%s\n", HelpTable(cp.bindings), StatusTable(cp.state.Snapshot()))
	return err
}
