// Package main provides voiceprobe, a command line client for exercising a
// running voice consultation server and the speech providers it uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/adapters/tts"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

func main() {
	var serverURL string

	rootCmd := &cobra.Command{
		Use:          "voiceprobe",
		Short:        "Probe a Nexariza voice consultation server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")

	// session command - open a consultation and print its credentials
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Open a consultation session",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newProbeClient(serverURL).openSession()
			if err != nil {
				return err
			}
			fmt.Println("✓ Session opened")
			fmt.Printf("  ID:      %s\n", session.Session.ID)
			fmt.Printf("  Token:   %s\n", session.Token)
			fmt.Printf("  Expires: %s\n", session.ExpiresAt.Format(time.RFC3339))
			for _, msg := range session.Session.Messages {
				fmt.Printf("  %s: %s\n", msg.Origin.Label(), msg.Text)
			}
			return nil
		},
	}

	// ask command - run one text turn over the websocket
	var timeout time.Duration
	var speak bool
	askCmd := &cobra.Command{
		Use:   "ask [text]",
		Short: "Send one question and print the assistant's reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ask(serverURL, args[0], speak, timeout)
		},
	}
	askCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "how long to wait for the reply")
	askCmd.Flags().BoolVar(&speak, "speak", false, "report speech synthesis support and acknowledge speak commands")

	// summary command - download the consultation summary
	var outDir string
	summaryCmd := &cobra.Command{
		Use:   "summary [session-id] [token]",
		Short: "Download the consultation summary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, fileName, err := newProbeClient(serverURL).summary(args[0], args[1])
			if err != nil {
				return err
			}
			if outDir == "" {
				fmt.Println(summary)
				return nil
			}
			path := filepath.Join(outDir, fileName)
			if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
				return fmt.Errorf("failed to save summary: %w", err)
			}
			fmt.Printf("✓ Summary saved to %s\n", path)
			return nil
		},
	}
	summaryCmd.Flags().StringVar(&outDir, "out", "", "directory to save the summary file in (prints when empty)")

	// synthesize command - call Eleven Labs directly
	var output, voice, language string
	var rate, volume float64
	synthesizeCmd := &cobra.Command{
		Use:   "synthesize [text]",
		Short: "Synthesize text with Eleven Labs and save the audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return synthesize(args[0], output, repositories.Utterance{
				Text:     args[0],
				Language: language,
				Rate:     rate,
				Pitch:    1,
				Volume:   volume,
				Voice:    entities.Voice{ID: voice},
			})
		},
	}
	synthesizeCmd.Flags().StringVarP(&output, "output", "o", "output.mp3", "audio file to write")
	synthesizeCmd.Flags().StringVar(&voice, "voice", "", "Eleven Labs voice ID (defaults to ELEVEN_LABS_VOICE_ID)")
	synthesizeCmd.Flags().StringVar(&language, "language", "en-US", "language of the text")
	synthesizeCmd.Flags().Float64Var(&rate, "rate", 1.0, "speaking rate")
	synthesizeCmd.Flags().Float64Var(&volume, "volume", 1.0, "output volume")

	rootCmd.AddCommand(sessionCmd, askCmd, summaryCmd, synthesizeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serverMessage holds the fields of any server message ask cares about
type serverMessage struct {
	Type        string          `json:"type"`
	State       string          `json:"state"`
	Message     json.RawMessage `json:"message"`
	UtteranceID string          `json:"utterance_id"`
	Text        string          `json:"text"`
	Code        string          `json:"error_code"`
	Details     string          `json:"details"`
}

func ask(serverURL, text string, speak bool, timeout time.Duration) error {
	client := newProbeClient(serverURL)
	session, err := client.openSession()
	if err != nil {
		return err
	}
	fmt.Printf("✓ Session %s opened\n", session.Session.ID)

	conn, err := client.dial(session.Session.ID, session.Token)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"type": "capabilities", "recognition": false, "synthesis": speak}); err != nil {
		return fmt.Errorf("failed to send capabilities: %w", err)
	}
	if err := conn.WriteJSON(map[string]interface{}{"type": "send_text", "text": text}); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}

	deadline := time.Now().Add(timeout)
	replied := false
	for {
		conn.SetReadDeadline(deadline)
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if kind == websocket.BinaryMessage {
			fmt.Printf("  (audio frame, %d bytes)\n", len(data))
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid server message: %w", err)
		}

		switch msg.Type {
		case "state":
			fmt.Printf("  state: %s\n", msg.State)
			if msg.State == string(entities.StateIdle) && replied {
				fmt.Printf("✓ Continue with: voiceprobe summary %s %s\n", session.Session.ID, session.Token)
				return nil
			}
		case "message":
			var chat entities.Message
			if err := json.Unmarshal(msg.Message, &chat); err != nil {
				return fmt.Errorf("invalid chat message: %w", err)
			}
			fmt.Printf("  %s: %s\n", chat.Origin.Label(), chat.Text)
			if chat.Origin == entities.OriginAssistant {
				replied = true
			}
		case "speak":
			fmt.Printf("  speak: %s\n", msg.Text)
			if err := conn.WriteJSON(map[string]interface{}{"type": "speak_end", "utterance_id": msg.UtteranceID}); err != nil {
				return fmt.Errorf("failed to acknowledge speech: %w", err)
			}
		case "error":
			fmt.Printf("  error: %s %s\n", msg.Code, msg.Details)
		}
	}
}

// fileSink writes synthesized audio to a file
type fileSink struct {
	file    *os.File
	written int
}

func (f *fileSink) WriteAudio(ctx context.Context, chunk []byte) error {
	n, err := f.file.Write(chunk)
	f.written += n
	return err
}

func synthesize(text, output string, utterance repositories.Utterance) error {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	elevenLabs, err := tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
	if err != nil {
		return err
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sink := &fileSink{file: file}
	start := time.Now()
	if err := elevenLabs.Stream(ctx, utterance, sink); err != nil {
		return fmt.Errorf("failed to synthesize %q: %w", text, err)
	}

	fmt.Printf("✓ Wrote %d bytes to %s in %v\n", sink.written, output, time.Since(start).Round(time.Millisecond))
	return nil
}
