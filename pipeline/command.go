package pipeline

import (
	"go.viam.com/fusion/export"
	"go.viam.com/fusion/input"
)

// CommandKind is a user command.
type CommandKind int

// Commands.
const (
	CommandExit CommandKind = iota
	CommandTakeCloud
	CommandTakeMesh
	CommandToggleExtractionMode
	CommandToggleNormals
	CommandToggleIndependentCamera
	CommandToggleVolumeBounds
	CommandToggleScenePainting
	CommandClearClouds
	CommandSaveCloud
	CommandSaveMesh
	CommandToggleVolumeScan
	CommandSaveVolumeAndCloud
	CommandPerformLastScan
	CommandPrintHelp
	CommandToggleRegistration
	CommandToggleColorIntegration
)

var commandNames = map[CommandKind]string{
	CommandExit:                    "Exit",
	CommandTakeCloud:               "TakeCloud",
	CommandTakeMesh:                "TakeMesh",
	CommandToggleExtractionMode:    "ToggleExtractionMode",
	CommandToggleNormals:           "ToggleNormals",
	CommandToggleIndependentCamera: "ToggleIndependentCamera",
	CommandToggleVolumeBounds:      "ToggleVolumeBoundsDisplay",
	CommandToggleScenePainting:     "ToggleScenePainting",
	CommandClearClouds:             "ClearClouds",
	CommandSaveCloud:               "SaveCloud",
	CommandSaveMesh:                "SaveMesh",
	CommandToggleVolumeScan:        "ToggleVolumeScanFlag",
	CommandSaveVolumeAndCloud:      "SaveVolumeAndCloud",
	CommandPerformLastScan:         "PerformLastScan",
	CommandPrintHelp:               "PrintHelp",
	CommandToggleRegistration:      "ToggleRegistration",
	CommandToggleColorIntegration:  "ToggleColorIntegration",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Command is one user command. The formats are only read by SaveCloud and SaveMesh.
type Command struct {
	Kind        CommandKind
	CloudFormat export.CloudFormat
	MeshFormat  export.MeshFormat
}

func (c Command) String() string {
	switch c.Kind {
	case CommandSaveCloud:
		return c.Kind.String() + "(" + c.CloudFormat.String() + ")"
	case CommandSaveMesh:
		return c.Kind.String() + "(" + c.MeshFormat.String() + ")"
	default:
		return c.Kind.String()
	}
}

// Binding is a key and the command it issues.
type Binding struct {
	Key         input.Control
	Command     Command
	Description string
}

// DefaultBindings are the keys of the interactive session.
var DefaultBindings = []Binding{
	{input.KeyEscape, Command{Kind: CommandExit}, "exit"},
	{input.KeyInterrupt, Command{Kind: CommandExit}, "exit"},
	{"t", Command{Kind: CommandTakeCloud}, "take cloud"},
	{"a", Command{Kind: CommandTakeMesh}, "take mesh"},
	{"m", Command{Kind: CommandToggleExtractionMode}, "toggle cloud extraction mode"},
	{"n", Command{Kind: CommandToggleNormals}, "toggle normals exporting"},
	{"c", Command{Kind: CommandClearClouds}, "clear clouds"},
	{"i", Command{Kind: CommandToggleIndependentCamera}, "toggle independent camera mode"},
	{"b", Command{Kind: CommandToggleVolumeBounds}, "toggle volume bounds"},
	{"*", Command{Kind: CommandToggleScenePainting}, "toggle scene painting, requires registration mode"},
	{"r", Command{Kind: CommandToggleRegistration}, "toggle registration, requires a color stream"},
	{"k", Command{Kind: CommandToggleColorIntegration}, "toggle color integration, requires registration mode"},
	{"x", Command{Kind: CommandToggleVolumeScan}, "toggle volume download on cloud extraction"},
	{"v", Command{Kind: CommandSaveVolumeAndCloud}, "save TSDF volume and cloud"},
	{"l", Command{Kind: CommandPerformLastScan}, "perform last scan and exit"},
	{"1", Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPCDBinary}, "save cloud to PCD (binary)"},
	{"2", Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPCDASCII}, "save cloud to PCD (ASCII)"},
	{"3", Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPLY}, "save cloud to PLY (ASCII)"},
	{"4", Command{Kind: CommandSaveCloud, CloudFormat: export.CloudLAS}, "save cloud to LAS"},
	{"7", Command{Kind: CommandSaveMesh, MeshFormat: export.MeshPLY}, "save mesh to PLY"},
	{"8", Command{Kind: CommandSaveMesh, MeshFormat: export.MeshVTK}, "save mesh to VTK"},
	{"h", Command{Kind: CommandPrintHelp}, "print this help"},
}
