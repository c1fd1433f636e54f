package backup

import "github.com/fgeck/nas-backup/internal/models"

// Command returns the program to start and its argument vector for req.
//
// With an interpreter configured the script path follows the interpreter
// arguments; otherwise the executable path is started directly.
func Command(exe models.ExecutableConfig, req models.RunRequest) (string, []string) {
	var args []string
	program := exe.Path
	if exe.Interpreter != "" {
		program = exe.Interpreter
		args = append(args, exe.InterpreterArgs...)
		args = append(args, exe.Path)
	}

	args = appendArg(args, exe.Args.NasAddress, req.NasAddress)
	args = appendArg(args, exe.Args.ShareName, req.ShareName)
	args = appendArg(args, exe.Args.SourcePath, req.SourcePath)
	args = appendArg(args, exe.Args.ArchivePath, req.ArchivePath)

	if req.Compress && exe.Args.Compress != "" {
		args = append(args, exe.Args.Compress)
	}

	return program, args
}

func appendArg(args []string, flag, value string) []string {
	if flag == "" {
		return append(args, value)
	}
	return append(args, flag, value)
}
