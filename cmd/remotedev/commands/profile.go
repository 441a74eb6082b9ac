package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/remotedev/internal/cli/output"
	"github.com/marmos91/remotedev/internal/cli/prompt"
	"github.com/marmos91/remotedev/pkg/config"
)

var (
	profileSide   string
	profileOutput string
	deleteForce   bool
	schemaOutFile string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage mirror profiles",
	Long: `Manage mirror profiles.

Dev profiles describe how this workstation reaches an exec host; exec
profiles describe where mirrored files land on this host. Each side keeps
its profiles in its own file under the user config directory, selected with
--side (dev by default).

Examples:
  # List dev profiles
  remotedev profile list

  # Create an exec profile interactively
  remotedev profile create --side exec

  # Inspect a profile
  remotedev profile show mybox -o yaml

  # Delete a profile
  remotedev profile delete mybox`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Long: `List the profiles of the selected side.

Examples:
  # List dev profiles as a table
  remotedev profile list

  # List exec profiles as JSON
  remotedev profile list --side exec -o json`,
	RunE: runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Display one profile",
	Long: `Display one profile of the selected side.

By default renders a table with the stored password masked. Use --output
json or yaml for machine-readable output.

Examples:
  # Show a dev profile
  remotedev profile show mybox

  # Show an exec profile as YAML
  remotedev profile show prod --side exec -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileShow,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a profile interactively",
	Long: `Create a profile of the selected side through an interactive wizard.

The dev wizard asks for the SSH endpoint, credentials and the local
directory to mirror. The exec wizard asks for an optional log file to ship
and the mapping table, one entry at a time.

Examples:
  # Create a dev profile
  remotedev profile create mybox

  # Create an exec profile, prompting for the name too
  remotedev profile create --side exec`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfileCreate,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile",
	Long: `Delete a profile of the selected side.

You will be prompted for confirmation unless --force is specified.

Examples:
  # Delete with confirmation
  remotedev profile delete mybox

  # Delete without confirmation
  remotedev profile delete mybox --force`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileDelete,
}

var profileSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for profile files",
	Long: `Generate a JSON schema for the profile file of the selected side.

The schema can be used for:
  - IDE autocompletion (VS Code, IntelliJ, etc.)
  - Profile file validation
  - Documentation generation

Examples:
  # Print the dev profile schema to stdout
  remotedev profile schema

  # Save the exec profile schema to a file
  remotedev profile schema --side exec --output exec.schema.json`,
	RunE: runProfileSchema,
}

func init() {
	profileCmd.PersistentFlags().StringVar(&profileSide, "side", "dev", "Profile store to operate on (dev|exec)")

	profileListCmd.Flags().StringVarP(&profileOutput, "output", "o", "table", "Output format (table|json|yaml)")
	profileShowCmd.Flags().StringVarP(&profileOutput, "output", "o", "table", "Output format (table|json|yaml)")
	profileDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
	profileSchemaCmd.Flags().StringVar(&schemaOutFile, "output", "", "Output file (default: stdout)")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	profileCmd.AddCommand(profileSchemaCmd)
}

// execSideSelected parses the --side flag.
func execSideSelected() (bool, error) {
	switch profileSide {
	case "dev":
		return false, nil
	case "exec":
		return true, nil
	default:
		return false, fmt.Errorf("invalid --side %q (must be dev or exec)", profileSide)
	}
}

// ============================================================================
// List
// ============================================================================

func runProfileList(cmd *cobra.Command, args []string) error {
	execSide, err := execSideSelected()
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(profileOutput)
	if err != nil {
		return err
	}

	if execSide {
		store, err := openExecStore()
		if err != nil {
			return err
		}
		profiles, err := store.Load()
		if err != nil {
			return err
		}

		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, profiles)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, profiles)
		}

		if len(profiles) == 0 {
			fmt.Printf("No exec profiles in %s\n", store.Path())
			return nil
		}
		table := output.NewTableData("NAME", "MAPPINGS", "LOG FILE", "REMOTE LOGGING")
		for _, name := range sortedKeys(profiles) {
			p := profiles[name]
			logFile := p.LogFilePath
			if logFile == "" {
				logFile = "-"
			}
			table.AddRow(name,
				fmt.Sprintf("%d", len(p.Mappings)),
				logFile,
				fmt.Sprintf("%t", p.IsRemoteLoggingEnabled()))
		}
		return output.PrintTable(os.Stdout, table)
	}

	store, err := openDevStore()
	if err != nil {
		return err
	}
	profiles, err := store.Load()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, profiles)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, profiles)
	}

	if len(profiles) == 0 {
		fmt.Printf("No dev profiles in %s\n", store.Path())
		return nil
	}
	table := output.NewTableData("NAME", "REMOTE HOST", "PORT", "USER", "LOCAL DIR")
	for _, name := range sortedKeys(profiles) {
		p := profiles[name]
		table.AddRow(name, p.RemoteHost, fmt.Sprintf("%d", p.RemotePort), p.SSHUsername, p.LocalDir)
	}
	return output.PrintTable(os.Stdout, table)
}

// ============================================================================
// Show
// ============================================================================

func runProfileShow(cmd *cobra.Command, args []string) error {
	execSide, err := execSideSelected()
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(profileOutput)
	if err != nil {
		return err
	}

	if execSide {
		store, err := openExecStore()
		if err != nil {
			return err
		}
		p, err := store.LoadProfile(args[0])
		if err != nil {
			return err
		}

		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, p)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, p)
		}

		logFile := p.LogFilePath
		if logFile == "" {
			logFile = "-"
		}
		pairs := [][2]string{
			{"Log file", logFile},
			{"Remote logging", fmt.Sprintf("%t", p.IsRemoteLoggingEnabled())},
		}
		if p.MetricsAddr != "" {
			pairs = append(pairs, [2]string{"Metrics address", p.MetricsAddr})
		}
		if err := output.SimpleTable(os.Stdout, pairs); err != nil {
			return err
		}

		fmt.Println()
		table := output.NewTableData("SOURCE", "DESTINATION", "LINK")
		for _, m := range p.CompiledMappings() {
			link := m.Link
			if link == "" {
				link = "-"
			}
			table.AddRow(m.Src, m.Dest, link)
		}
		return output.PrintTable(os.Stdout, table)
	}

	store, err := openDevStore()
	if err != nil {
		return err
	}
	p, err := store.LoadProfile(args[0])
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, p)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, p)
	}

	pairs := [][2]string{
		{"Remote host", p.RemoteHost},
		{"SSH port", fmt.Sprintf("%d", p.RemotePort)},
		{"SSH username", p.SSHUsername},
		{"SSH password", "********"},
		{"Local dir", p.LocalDir},
	}
	if p.MetricsAddr != "" {
		pairs = append(pairs, [2]string{"Metrics address", p.MetricsAddr})
	}
	return output.SimpleTable(os.Stdout, pairs)
}

// ============================================================================
// Create
// ============================================================================

func runProfileCreate(cmd *cobra.Command, args []string) error {
	execSide, err := execSideSelected()
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	if execSide {
		err = createExecProfile(name)
	} else {
		err = createDevProfile(name)
	}
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

func createDevProfile(name string) error {
	store, err := openDevStore()
	if err != nil {
		return err
	}

	if name == "" {
		name, err = prompt.InputRequired("Profile name")
		if err != nil {
			return err
		}
	}

	host, err := prompt.InputRequired("Remote host")
	if err != nil {
		return err
	}
	port, err := prompt.InputPort("Remote SSH port", config.DefaultRemotePort)
	if err != nil {
		return err
	}
	user, err := prompt.InputRequired("Remote SSH username")
	if err != nil {
		return err
	}
	password, err := prompt.PasswordWithValidation("Remote SSH password", 1)
	if err != nil {
		return err
	}

	cwd, _ := os.Getwd()
	localDir, err := prompt.InputWithValidation(
		fmt.Sprintf("Local directory to mirror (default %s)", cwd), validateAbsPath)
	if err != nil {
		return err
	}
	if localDir == "" {
		localDir = cwd
	}

	profile := &config.DevProfile{
		RemoteHost:  host,
		RemotePort:  port,
		SSHUsername: user,
		SSHPassword: password,
		LocalDir:    localDir,
	}
	if err := store.SaveProfile(name, profile); err != nil {
		return err
	}

	fmt.Printf("Profile %q saved to %s\n", name, store.Path())
	return nil
}

func createExecProfile(name string) error {
	store, err := openExecStore()
	if err != nil {
		return err
	}

	if name == "" {
		name, err = prompt.InputRequired("Profile name")
		if err != nil {
			return err
		}
	}

	logFile, err := prompt.InputWithValidation(
		"Log file to ship (empty if none)", validateOptionalExistingFile)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Now add mappings: source from the mirrored directory root <=> destination path on this host.")
	fmt.Println(`Enter "q" as source to stop adding mappings.`)

	mappings := make(map[string]config.MappingSpec)
	for {
		fmt.Println()
		src, err := prompt.InputRequired("Source directory")
		if err != nil {
			return err
		}
		if src == "q" {
			if len(mappings) == 0 {
				fmt.Println(" --> At least one mapping is required")
				continue
			}
			break
		}

		dest, err := prompt.InputWithValidation("Destination directory", validateExistingDir)
		if err != nil {
			return err
		}
		link, err := prompt.InputWithValidation(
			"Create symbolic link into directory (empty when no link)", validateOptionalExistingPath)
		if err != nil {
			return err
		}

		mappings[src] = config.MappingSpec{Dest: dest, Link: link}
	}

	profile := &config.ExecProfile{
		LogFilePath: logFile,
		Mappings:    mappings,
	}
	if err := store.SaveProfile(name, profile); err != nil {
		return err
	}

	fmt.Printf("Profile %q saved to %s\n", name, store.Path())
	return nil
}

func validateAbsPath(s string) error {
	if s == "" {
		return nil
	}
	if !filepath.IsAbs(s) {
		return fmt.Errorf("must be an absolute path")
	}
	return nil
}

func validateExistingDir(s string) error {
	if !filepath.IsAbs(s) {
		return fmt.Errorf("must be an absolute path")
	}
	info, err := os.Stat(s)
	if err != nil {
		return fmt.Errorf("specified path does not exist")
	}
	if !info.IsDir() {
		return fmt.Errorf("must be a directory")
	}
	return nil
}

func validateOptionalExistingFile(s string) error {
	if s == "" {
		return nil
	}
	if !filepath.IsAbs(s) {
		return fmt.Errorf("must be an absolute path")
	}
	info, err := os.Stat(s)
	if err != nil {
		return fmt.Errorf("specified file does not exist")
	}
	if info.IsDir() {
		return fmt.Errorf("must be a file")
	}
	return nil
}

func validateOptionalExistingPath(s string) error {
	if s == "" {
		return nil
	}
	if !filepath.IsAbs(s) {
		return fmt.Errorf("must be an absolute path")
	}
	if _, err := os.Stat(s); err != nil {
		return fmt.Errorf("specified path does not exist")
	}
	return nil
}

// ============================================================================
// Delete
// ============================================================================

func runProfileDelete(cmd *cobra.Command, args []string) error {
	execSide, err := execSideSelected()
	if err != nil {
		return err
	}
	name := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete profile '%s'?", name), deleteForce)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	if execSide {
		store, err := openExecStore()
		if err != nil {
			return err
		}
		if err := store.DeleteProfile(name); err != nil {
			return err
		}
	} else {
		store, err := openDevStore()
		if err != nil {
			return err
		}
		if err := store.DeleteProfile(name); err != nil {
			return err
		}
	}

	fmt.Printf("Profile %q deleted\n", name)
	return nil
}

// ============================================================================
// Schema
// ============================================================================

// devProfileFile and execProfileFile mirror the on-disk layout of the
// profile stores for schema generation.
type devProfileFile struct {
	Profiles map[string]config.DevProfile `json:"profiles"`
}

type execProfileFile struct {
	Profiles map[string]config.ExecProfile `json:"profiles"`
}

func runProfileSchema(cmd *cobra.Command, args []string) error {
	execSide, err := execSideSelected()
	if err != nil {
		return err
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var schema *jsonschema.Schema
	if execSide {
		schema = reflector.Reflect(&execProfileFile{})
		schema.Title = "remotedev exec profiles"
		schema.Description = "Profile file for the execution-host side of remotedev"
	} else {
		schema = reflector.Reflect(&devProfileFile{})
		schema.Title = "remotedev dev profiles"
		schema.Description = "Profile file for the workstation side of remotedev"
	}
	schema.Version = "https://json-schema.org/draft/2020-12/schema"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutFile != "" {
		if err := os.WriteFile(schemaOutFile, schemaJSON, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutFile)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
