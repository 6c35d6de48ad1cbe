package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVocabCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "vocab",
		Short: "Print the gesture vocabulary and recognition constants",
		RunE: func(cmd *cobra.Command, args []string) error {
			vocab, err := loadVocabulary(c.cfg.Stream.Vocabulary)
			if err != nil {
				return err
			}
			engine := c.cfg.Stream.Engine()

			out := cmd.OutOrStdout()
			for i, label := range vocab.Labels() {
				fmt.Fprintf(out, "%d\t%s\n", i, label)
			}
			fmt.Fprintf(out, "\nwindow=%d history=%d min_votes=%d threshold=%g transcript_cap=%d\n",
				engine.WindowSize, engine.HistorySize, engine.MinVotes, engine.Threshold, engine.TranscriptCap)
			return nil
		},
	}
}
