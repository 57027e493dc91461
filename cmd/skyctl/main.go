package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/skylink-aero/skylink/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	gatewayURL string
	cfgFile    string
	certFile   string
	keyFile    string
	caFile     string
	insecure   bool
	role       string
	secret     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skyctl",
	Short: "SkyLink gateway CLI",
	Long: `skyctl is the command-line interface for the SkyLink gateway.

It obtains access tokens, submits telemetry events, and reads the weather
and ground-station endpoints on behalf of an aircraft identity.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.skylink")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if gatewayURL == "" {
			gatewayURL = viper.GetString("gateway_url")
		}
		if gatewayURL == "" {
			gatewayURL = "https://localhost:8443"
		}
		if certFile == "" {
			certFile = viper.GetString("cert_file")
		}
		if keyFile == "" {
			keyFile = viper.GetString("key_file")
		}
		if caFile == "" {
			caFile = viper.GetString("ca_file")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.skylink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "SkyLink gateway URL (default https://localhost:8443)")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert", "", "client certificate file for mTLS")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "client private key file for mTLS")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA bundle used to verify the gateway certificate")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")
	rootCmd.PersistentFlags().StringVar(&role, "role", "", "role to request when obtaining a token")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "bootstrap secret for the token endpoint")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(weatherCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient assembles a gateway client from the persistent flags.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if certFile != "" && keyFile != "" {
		certPEM, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("read client certificate: %w", err)
		}
		keyPEM, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read client key: %w", err)
		}
		var caPEM []byte
		if caFile != "" {
			caPEM, err = os.ReadFile(caFile)
			if err != nil {
				return nil, fmt.Errorf("read CA bundle: %w", err)
			}
		}
		opts = append(opts, client.WithMTLS(string(certPEM), string(keyPEM), string(caPEM)))
	}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if role != "" {
		opts = append(opts, client.WithRole(role))
	}
	if secret != "" {
		opts = append(opts, client.WithBootstrapSecret(secret))
	}
	return client.New(gatewayURL, opts...)
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain an access token from the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tok, err := c.ObtainToken(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

// ── send ─────────────────────────────────────────────────────────────────────

var (
	sendAircraftID string
	sendEventID    string
	sendEventFile  string
	sendSpeed      float64
	sendAltitude   float64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit a telemetry event",
	Long: `Send submits one telemetry event through the gateway's admission pipeline.

The event can come from a JSON file:

  skyctl send --file event.json

or be assembled from flags:

  skyctl send --aircraft AC-100 --speed 45.5 --altitude 75`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendAircraftID, "aircraft", "", "aircraft identifier (defaults to the certificate CN server-side)")
	sendCmd.Flags().StringVar(&sendEventID, "event-id", "", "event identifier (random UUID when omitted)")
	sendCmd.Flags().StringVar(&sendEventFile, "file", "", "JSON file containing the full event")
	sendCmd.Flags().Float64Var(&sendSpeed, "speed", 0, "speed metric")
	sendCmd.Flags().Float64Var(&sendAltitude, "altitude", 0, "altitude metric (0-100)")
}

func runSend(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var event any
	if sendEventFile != "" {
		raw, err := os.ReadFile(sendEventFile)
		if err != nil {
			return fmt.Errorf("read event file: %w", err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("parse event file: %w", err)
		}
		event = parsed
	} else {
		if sendAircraftID == "" {
			return fmt.Errorf("--aircraft is required unless --file is given")
		}
		eventID := sendEventID
		if eventID == "" {
			eventID = uuid.NewString()
		}
		metrics := map[string]any{}
		if cmd.Flags().Changed("speed") {
			metrics["speed"] = sendSpeed
		}
		if cmd.Flags().Changed("altitude") {
			metrics["altitude"] = sendAltitude
		}
		event = map[string]any{
			"event_id":    eventID,
			"aircraft_id": sendAircraftID,
			"ts":          time.Now().UTC().Format(time.RFC3339),
			"metrics":     metrics,
		}
	}

	result, err := c.IngestTelemetry(context.Background(), event)
	if err != nil {
		return err
	}
	fmt.Printf("Status:   %s\n", result.Status)
	fmt.Printf("Event ID: %s\n", result.EventID)
	return nil
}

// ── events ───────────────────────────────────────────────────────────────────

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events <aircraft-id>",
	Short: "List stored telemetry events for an aircraft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		raw, err := c.ListEvents(context.Background(), args[0], eventsLimit)
		if err != nil {
			return err
		}
		var buf json.RawMessage = raw
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buf)
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "maximum number of events to return")
}

// ── weather ──────────────────────────────────────────────────────────────────

var weatherLat, weatherLon float64

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Fetch current weather at a position",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		report, err := c.GetWeather(context.Background(), weatherLat, weatherLon)
		if err != nil {
			return err
		}
		fmt.Printf("Conditions:  %s\n", report.Conditions)
		fmt.Printf("Temperature: %.1f\n", report.Temperature)
		fmt.Printf("Wind:        %.1f @ %.0f\n", report.WindSpeed, report.WindHeading)
		fmt.Printf("Visibility:  %.1f\n", report.Visibility)
		return nil
	},
}

func init() {
	weatherCmd.Flags().Float64Var(&weatherLat, "lat", 0, "latitude")
	weatherCmd.Flags().Float64Var(&weatherLon, "lon", 0, "longitude")
}

// ── contacts ─────────────────────────────────────────────────────────────────

var contactsPage, contactsSize int

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List ground-station contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		items, total, err := c.ListContacts(context.Background(), contactsPage, contactsSize)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCALLSIGN\tFREQ\tREGION")
		for _, ct := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", ct.ID, ct.Name, ct.Callsign, ct.Frequency, ct.Region)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d contacts\n", len(items), total)
		return nil
	},
}

func init() {
	contactsCmd.Flags().IntVar(&contactsPage, "page", 1, "page number")
	contactsCmd.Flags().IntVar(&contactsSize, "size", 50, "page size")
}

// ── health / version ─────────────────────────────────────────────────────────

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Health(context.Background()); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the skyctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}
