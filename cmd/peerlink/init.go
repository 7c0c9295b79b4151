package main

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/identity"
)

//go:embed templates/peerlink.yaml
var configTemplate embed.FS

// templateData fills templates/peerlink.yaml.
type templateData struct {
	Identity       string
	PublicIdentity string
	Hostname       string
	ProxyPort      int
	VirtualPort    int
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an identity and a peers file",
		Long: `Init generates this node's identity (TLS certificate, hidden-service key
and auth cookie) and writes a .peerlink peers file that points at it.

The identity directory also gets public.yaml, a signed public identity to
hand to friends. Friends list it as a peer certificate.

Examples:
  # Create the identity in the XDG data directory and .peerlink here
  peerlink init --nickname alice

  # Keep everything in one directory
  peerlink init --identity ./alice -o ./alice/.peerlink

  # Replace an existing identity and peers file
  peerlink init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().String("identity", config.NewConfig().IdentityDir,
		"Directory to write the identity to")
	cmd.Flags().String("nickname", "peerlink",
		"Display name stored in the identity")
	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the peers file")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite an existing identity and peers file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	identityDir, err := cmd.Flags().GetString("identity")
	if err != nil {
		return err
	}
	nickname, err := cmd.Flags().GetString("nickname")
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
		if _, err := identity.Load(identityDir); err == nil {
			return fmt.Errorf("identity already exists: %s (use -f to overwrite)", identityDir)
		} else if !errors.Is(err, identity.ErrNoIdentity) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("identity directory %s is not usable: %w", identityDir, err)
		}
	}

	keys, err := identity.Generate(nickname)
	if err != nil {
		return err
	}
	if err := keys.Save(identityDir); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	absIdentity, err := filepath.Abs(identityDir)
	if err != nil {
		return err
	}
	content, err := renderPeersFile(templateData{
		Identity:       absIdentity,
		PublicIdentity: filepath.Join(absIdentity, identity.PublicIdentityFile),
		Hostname:       keys.Hostname,
		ProxyPort:      config.DefaultProxyPort,
		VirtualPort:    config.DefaultVirtualPort,
	})
	if err != nil {
		return err
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created identity:     %s\n", absIdentity)
	fmt.Fprintf(out, "Created peers file:   %s\n", outputPath)
	fmt.Fprintf(out, "Hostname:             %s\n", keys.Hostname)
	fmt.Fprintf(out, "Certificate ID:       %s\n", keys.ID())
	fmt.Fprintf(out, "\nShare %s with friends and add theirs under peers.\n",
		filepath.Join(absIdentity, identity.PublicIdentityFile))
	return nil
}

// renderPeersFile fills the embedded peers file template.
func renderPeersFile(data templateData) ([]byte, error) {
	raw, err := configTemplate.ReadFile("templates/peerlink.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read config template: %w", err)
	}
	tmpl, err := template.New("peerlink.yaml").Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render config template: %w", err)
	}
	return buf.Bytes(), nil
}
