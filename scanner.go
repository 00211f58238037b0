package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/chloezql/breakingnews-sub001/client"
	"github.com/chloezql/breakingnews-sub001/domain"
)

var errGaveUp = errors.New("relay unreachable: " + client.StatusGaveUp)

func newScannerCmd() *cobra.Command {
	cc := &clientConfig{}
	var input string

	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "Forward card ids read line by line from a reader device to the relay.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cc.validate(); err != nil {
				return err
			}

			in := io.Reader(os.Stdin)
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			return runScanner(cmd.Context(), cc.options(), in)
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)
	cc.register(fs, "rfid_reader")
	fs.StringVarP(&input, "input", "i", "-", "reader device or file to read card ids from, - for stdin (env: BREAKINGNEWS_INPUT)")

	return cmd
}

// normalizeCardID strips whitespace that readers put between hex bytes.
func normalizeCardID(line string) string {
	return strings.ToUpper(strings.Join(strings.Fields(line), ""))
}

// runScanner waits for the first successful connection, then sends one
// rfid_scan per non-empty input line until the input ends.
func runScanner(ctx context.Context, opts client.Options, in io.Reader) error {
	connected := make(chan struct{})
	var once sync.Once
	opts.OnState = func(s client.State, status string) {
		slog.Info("relay connection", "state", s, "status", status)
		if s == client.Connected {
			once.Do(func() { close(connected) })
		}
	}

	c := client.New(opts)
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		return errGaveUp
	case <-connected:
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return errGaveUp
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			cardID := normalizeCardID(line)
			if cardID == "" {
				continue
			}
			slog.Info("card read", "cardId", cardID, "deviceId", c.DeviceID())
			c.Send(domain.ScanReport{
				Type:     domain.TypeRFIDScan,
				CardID:   cardID,
				DeviceID: c.DeviceID(),
			})
		}
	}
}
