// Package main is a command line front end for the interest endpoint. It
// drives the same submission controller a browser form would, so retries,
// timeouts and failure diagnosis behave identically from a terminal.
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"portfoliorelay/internal/config"
	"portfoliorelay/internal/eventlog"
	"portfoliorelay/internal/submit"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

const appName = "notifyc"

// Exit codes following FreeBSD's sendmail conventions
const (
	EX_OK          = 0  // Successful completion
	EX_USAGE       = 64 // Command line usage error
	EX_DATAERR     = 65 // Submission refused as invalid
	EX_UNAVAILABLE = 69 // Endpoint missing or misconfigured
	EX_TEMPFAIL    = 75 // Temporary failure, try again later
)

var (
	connectivity submit.Connectivity = submit.InterfaceConnectivity{}

	configDir string
	endpoint  string
	origin    string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Send portfolio interest submissions from the command line",
	Long: `notifyc submits a contact form entry to the interest endpoint the same way
the portfolio page does, including the retry and failure diagnosis.`,
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit one interest entry",
	Long: `Submit one interest entry. Fields come from flags or from a header block
on stdin; flags win over headers.

Example:
  notifyc send --name "Ada Lovelace" --email ada@example.com --message "Hello"
  printf 'Name: Ada\nEmail: ada@example.com\n\nHello\n.\n' | notifyc send`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runSend(cmd))
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether the endpoint is deployed and reachable",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runProbe(cmd))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "/usr/local/etc", "configuration base directory")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "override the submission endpoint URL")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "", "override the page origin sent with requests")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print controller events to stderr")

	addSendFlags(sendCmd)

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(probeCmd)
}

func addSendFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "visitor name")
	cmd.Flags().String("email", "", "visitor email address")
	cmd.Flags().String("message", "", "message text (read from stdin when empty)")
	cmd.Flags().String("honeypot", "", "hidden form field")
	cmd.Flags().BoolP("ignore-dots", "i", false, "ignore dots alone on lines")
	_ = cmd.Flags().MarkHidden("honeypot")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(EX_USAGE)
	}
}

func loadClientConfig() (config.ClientConfig, error) {
	cfg, _, err := config.LoadFrom(configDir, appName)
	if err != nil {
		return config.ClientConfig{}, err
	}
	client := cfg.Client
	if endpoint != "" {
		client.EndpointURL = endpoint
		client.HealthURL = config.HealthURLFor(endpoint, cfg.Server.HealthPath)
	}
	if origin != "" {
		client.PageOrigin = origin
	}
	return client, nil
}

func runSend(cmd *cobra.Command) int {
	clientCfg, err := loadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return EX_UNAVAILABLE
	}

	draft, err := draftFromFlags(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading message: %v\n", err)
		return EX_USAGE
	}

	events := eventlog.Default()
	if debug {
		cancel := events.Subscribe(printEvent)
		defer cancel()
	}

	opts := submit.OptionsFromConfig(clientCfg)
	opts.Client = &http.Client{}
	opts.Connectivity = connectivity
	opts.Events = events
	controller := submit.New(opts)

	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Sending..."
	unsubscribe := controller.Subscribe(func(o submit.Outcome) {
		if o.State == submit.StateSubmitting {
			s.Start()
			return
		}
		s.Stop()
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome := controller.Submit(ctx, draft)
	s.Stop()

	if outcome.State == submit.StateSuccess {
		fmt.Println("Thanks! Your message has been sent.")
		return EX_OK
	}
	fmt.Fprintln(os.Stderr, outcome.Message)
	return exitCode(outcome)
}

func draftFromFlags(cmd *cobra.Command) (submit.Draft, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	email, _ := flags.GetString("email")
	message, _ := flags.GetString("message")
	honeypot, _ := flags.GetString("honeypot")
	ignoreDots, _ := flags.GetBool("ignore-dots")

	d := submit.Draft{Name: name, Email: email, Message: message, Honeypot: honeypot}
	if message != "" {
		return d, nil
	}

	msg, err := readMessage(cmd.InOrStdin(), ignoreDots)
	if err != nil {
		return submit.Draft{}, err
	}
	if d.Name == "" {
		d.Name = msg.headers["Name"]
	}
	if d.Email == "" {
		d.Email = msg.headers["Email"]
	}
	d.Message = strings.TrimRight(msg.body.String(), "\n")
	return d, nil
}

func runProbe(cmd *cobra.Command) int {
	clientCfg, err := loadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return EX_UNAVAILABLE
	}
	if clientCfg.HealthURL == "" {
		fmt.Fprintln(os.Stderr, "No endpoint configured")
		return EX_UNAVAILABLE
	}

	transport := submit.NewTransport(&http.Client{}, clientCfg.PageOrigin)
	diagnoser := submit.NewDiagnoser(transport, clientCfg.HealthURL, clientCfg.ProbeTimeout, submit.SystemClock)

	cause := diagnoser.Diagnose(cmd.Context())
	fmt.Printf("%s: %s\n", clientCfg.HealthURL, probeSummary(cause))
	return probeExitCode(cause)
}

// EmailMessage is a header block followed by a body, as read from stdin.
type EmailMessage struct {
	headers map[string]string
	body    *bytes.Buffer
}

// readMessage parses "Key: value" lines up to the first blank line, then the
// body up to EOF or a line holding a single dot. Input that does not open
// with a header line is treated as body only.
func readMessage(r io.Reader, ignoreDots bool) (*EmailMessage, error) {
	msg := &EmailMessage{
		headers: make(map[string]string),
		body:    new(bytes.Buffer),
	}

	scanner := bufio.NewScanner(r)
	inHeaders := true

	for scanner.Scan() {
		line := scanner.Text()

		if inHeaders {
			if line == "" {
				inHeaders = false
				continue
			}
			if key, value, ok := strings.Cut(line, ":"); ok && !strings.ContainsAny(key, " \t") {
				msg.headers[http.CanonicalHeaderKey(strings.TrimSpace(key))] = strings.TrimSpace(value)
				continue
			}
			inHeaders = false
		}

		if !ignoreDots && line == "." {
			break
		}

		msg.body.WriteString(line)
		msg.body.WriteString("\n")
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return msg, nil
}

func exitCode(o submit.Outcome) int {
	if o.State != submit.StateError {
		return EX_OK
	}
	switch o.Cause {
	case submit.CauseInvalid, submit.CauseRejected:
		return EX_DATAERR
	case submit.CauseUnavailable, submit.CauseNotDeployed, submit.CauseCORS:
		return EX_UNAVAILABLE
	default:
		return EX_TEMPFAIL
	}
}

func probeSummary(c submit.Cause) string {
	switch c {
	case submit.CauseCORS:
		return "reachable, CORS headers present"
	case submit.CauseNotDeployed:
		return "host answers but the endpoint is not deployed or not allowing this origin"
	case submit.CauseNetwork:
		return "unreachable"
	default:
		return "could not determine endpoint status"
	}
}

func probeExitCode(c submit.Cause) int {
	switch c {
	case submit.CauseCORS:
		return EX_OK
	case submit.CauseNetwork:
		return EX_TEMPFAIL
	default:
		return EX_UNAVAILABLE
	}
}

func printEvent(e eventlog.Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", e.Time.Format(time.TimeOnly), e.Level, e.Message)
	for k, v := range e.Fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(os.Stderr, b.String())
}
