package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/logger/console"
	"github.com/insightlab/causal/backend/pkg/store/file"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	graphPath string
	jsonOut   bool
	debug     bool
}

type queryOptions struct {
	from        string
	to          string
	direction   string
	maxHops     int
	minStrength float64
	maxPaths    int
}

func (o *queryOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.from, "from", "", "start factor")
	cmd.Flags().StringVar(&o.to, "to", "", "target factor")
	cmd.Flags().StringVar(&o.direction, "direction", causal.DirectionUp, "shock direction of the start factor (up|down)")
	cmd.Flags().IntVar(&o.maxHops, "max-hops", causal.DefaultMaxHops, "maximum path length in edges")
	cmd.Flags().IntVar(&o.maxPaths, "max-paths", 0, "stop after this many paths (0 = unbounded)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (o *queryOptions) query() (causal.Query, error) {
	if o.direction != causal.DirectionUp && o.direction != causal.DirectionDown {
		return causal.Query{}, fmt.Errorf("invalid direction %q: must be up or down", o.direction)
	}
	return causal.Query{
		StartNode:      o.from,
		EndNode:        o.to,
		StartDirection: o.direction,
		MaxHops:        o.maxHops,
		MinStrength:    o.minStrength,
		MaxPaths:       o.maxPaths,
	}, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "causal",
		Short: "Trace causal paths between market factors",
		Long: `Inspect a causal graph document and analyse how a shock to one factor
propagates to another.

Examples:
  causal analyze --graph data/causal_graph.json --from FR_credit_rating --to KOSPI
  causal paths --graph graph.yaml --from A --to C --max-hops 4
  causal validate --graph graph.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  opts.debug,
				Prefix: "causal",
				Output: os.Stderr,
			}))
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.graphPath, "graph", "g", "data/causal_graph.json", "graph definition (.json, .yaml, .yml)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newPathsCmd(opts),
		newNodesCmd(opts),
		newValidateCmd(opts),
		newConvertCmd(opts),
	)
	return root
}

// loadGraph surfaces load errors instead of degrading to an empty graph.
func loadGraph(ctx context.Context, path string) (*causal.Graph, error) {
	def, err := file.NewSource(path).LoadDefinition(ctx)
	if err != nil {
		return nil, err
	}
	return causal.NewGraph(def), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}
	var top int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Aggregate all paths between two factors into a directional signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query()
			if err != nil {
				return err
			}
			g, err := loadGraph(cmd.Context(), root.graphPath)
			if err != nil {
				return err
			}

			res := g.Analyze(q)
			if root.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s -> %s: %s (prob_up %.2f, score %.2f, %d paths)\n",
				q.StartNode, q.StartDirection, q.EndNode, res.Direction, res.ProbUp, res.Score, res.PathCount)
			if len(res.TopPaths) == 0 {
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STRENGTH\tSIGN\tLAG\tPATH")
			for i, p := range res.TopPaths {
				if top > 0 && i >= top {
					break
				}
				fmt.Fprintf(tw, "%.4f\t%s\t%dd\t%s\n", p.Strength, p.FinalSign, p.LagDays, p.Path)
			}
			return tw.Flush()
		},
	}
	opts.register(cmd)
	cmd.Flags().Float64Var(&opts.minStrength, "min-strength", causal.DefaultMinStrength, "discard paths weaker than this")
	cmd.Flags().IntVar(&top, "top", 10, "paths to list (0 = all returned)")
	return cmd
}

type pathLine struct {
	Path     string  `json:"path"`
	Strength float64 `json:"strength"`
	Sign     string  `json:"final_sign"`
	LagDays  int     `json:"lag_days"`
}

func newPathsCmd(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "paths",
		Short: "List every simple path between two factors without filtering",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query()
			if err != nil {
				return err
			}
			g, err := loadGraph(cmd.Context(), root.graphPath)
			if err != nil {
				return err
			}

			paths := g.FindAllPaths(q.StartNode, q.EndNode, q.MaxHops, causal.WithMaxPaths(q.MaxPaths))
			lines := make([]pathLine, 0, len(paths))
			for _, p := range paths {
				s := causal.ScorePath(p, q.StartDirection)
				lines = append(lines, pathLine{
					Path:     p.String(),
					Strength: s.Strength,
					Sign:     causal.SignLabel(s.SignValue),
					LagDays:  s.LagDays,
				})
			}

			if root.jsonOut {
				return writeJSON(cmd.OutOrStdout(), lines)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STRENGTH\tSIGN\tLAG\tPATH")
			for _, l := range lines {
				fmt.Fprintf(tw, "%.4f\t%s\t%dd\t%s\n", l.Strength, l.Sign, l.LagDays, l.Path)
			}
			return tw.Flush()
		},
	}
	opts.register(cmd)
	return cmd
}

func newNodesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the factors of the graph with their out-degree",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(cmd.Context(), root.graphPath)
			if err != nil {
				return err
			}

			if root.jsonOut {
				return writeJSON(cmd.OutOrStdout(), g.Nodes())
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOUT")
			for _, n := range g.Nodes() {
				fmt.Fprintf(tw, "%s\t%d\n", n.ID, len(g.OutgoingEdges(n.ID)))
			}
			return tw.Flush()
		},
	}
}

type validateReport struct {
	Path   string            `json:"path"`
	Nodes  int               `json:"nodes"`
	Edges  int               `json:"edges"`
	Report causal.LoadReport `json:"dropped"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the graph and report records that were dropped",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(cmd.Context(), root.graphPath)
			if err != nil {
				return err
			}

			rep := validateReport{
				Path:   root.graphPath,
				Nodes:  g.NodeCount(),
				Edges:  g.EdgeCount(),
				Report: g.Report(),
			}
			if root.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, %d edges\n", rep.Path, rep.Nodes, rep.Edges)
				fmt.Fprintf(cmd.OutOrStdout(), "dropped: %d nodes without id, %d edges without endpoint, %d edges with unknown endpoint\n",
					rep.Report.NodesSkipped, rep.Report.EdgesMissingEndpoint, rep.Report.EdgesUnknownEndpoint)
			}

			if g.NodeCount() == 0 {
				return fmt.Errorf("graph %s has no nodes", root.graphPath)
			}
			if strict && rep.Report != (causal.LoadReport{}) {
				return fmt.Errorf("graph %s has dropped records", root.graphPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any record was dropped")
	return cmd
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "convert OUTPUT",
		Short: "Rewrite the graph definition in the format given by the output extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := file.NewSource(root.graphPath).LoadDefinition(cmd.Context())
			if err != nil {
				return err
			}
			dst := file.NewSource(args[0])
			if err := dst.Save(def); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d nodes and %d edges to %s\n", len(def.Nodes), len(def.Edges), dst.Path())
			return nil
		},
	}
}
