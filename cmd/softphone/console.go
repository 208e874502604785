package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/softphone"
	"github.com/dense-identity/softphone/internal/state"
)

const help = `Commands:
  dial <number>        - place a call
  call <contact-id>    - call a stored contact
  answer | decline     - handle the ringing call
  hangup [call-id]     - end the active call
  speaker              - toggle speaker
  status               - show registration and call state
  contacts             - list contacts
  ui answer | ui end   - act on the call screen entry
  quit                 - exit`

// commandLoop reads commands from in until EOF or quit.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, p *softphone.Phone, ui *bridge.Console, stop context.CancelFunc) {
	fmt.Fprintln(out, help)
	scanner := bufio.NewScanner(in)

	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "dial":
			if len(parts) != 2 {
				fmt.Fprintln(out, "Usage: dial <number>")
				continue
			}
			id, err := p.PlaceCall(ctx, parts[1])
			if err != nil {
				fmt.Fprintf(out, "Dial failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Dialing: call=%s\n", id.SignalingID)

		case "call":
			if len(parts) != 2 {
				fmt.Fprintln(out, "Usage: call <contact-id>")
				continue
			}
			id, err := p.CallContact(ctx, parts[1])
			if err != nil {
				fmt.Fprintf(out, "Call failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Dialing: call=%s\n", id.SignalingID)

		case "answer":
			report(out, "Answer", p.Answer(ctx))

		case "decline":
			report(out, "Decline", p.Decline(ctx))

		case "hangup":
			id := ""
			if len(parts) > 1 {
				id = parts[1]
			}
			report(out, "Hangup", p.Hangup(ctx, id))

		case "speaker":
			on, err := p.ToggleSpeaker(ctx)
			if err != nil {
				fmt.Fprintf(out, "Speaker failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Speaker on: %v\n", on)

		case "status":
			printStatus(out, p.Snapshot())

		case "contacts":
			contacts, err := p.Contacts(ctx)
			if err != nil {
				fmt.Fprintf(out, "Contacts failed: %v\n", err)
				continue
			}
			printContacts(out, contacts)

		case "ui":
			uiID, ok := ui.Current()
			if !ok || len(parts) != 2 {
				fmt.Fprintln(out, "No call screen entry")
				continue
			}
			switch parts[1] {
			case "answer":
				ui.Answer(uiID)
			case "end":
				ui.Hangup(uiID)
			default:
				fmt.Fprintln(out, "Usage: ui answer|end")
			}

		case "help":
			fmt.Fprintln(out, help)

		case "quit", "exit":
			stop()
			return

		default:
			fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", parts[0])
		}
	}
}

func report(out io.Writer, what string, err error) {
	if err != nil {
		fmt.Fprintf(out, "%s failed: %v\n", what, err)
	}
}

func printStatus(out io.Writer, snap state.Snapshot) {
	fmt.Fprintf(out, "Status: %s [%s]\n", snap.StatusText, snap.Severity)
	if snap.Diagnostic != "" {
		fmt.Fprintf(out, "  %s\n", snap.Diagnostic)
	}
	if c := snap.ActiveCall; c != nil {
		fmt.Fprintf(out, "Call %s: %s %s (%s) speaker=%v\n", c.ID, c.Direction, c.RemoteURI, c.StateText, snap.SpeakerOn)
	}
}

func printContacts(out io.Writer, contacts []phone.Contact) {
	if len(contacts) == 0 {
		fmt.Fprintln(out, "No contacts")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tNUMBER")
	for _, c := range contacts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Name, c.Number)
	}
	w.Flush()
}
