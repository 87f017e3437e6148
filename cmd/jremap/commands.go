package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jremap/internal/graph"
	"jremap/internal/mapping"
	"jremap/internal/pipeline"
)

var remapReq pipeline.RemapRequest

var remapCmd = &cobra.Command{
	Use:   "remap <input.jar>",
	Short: "Resolve a build against the store and write the renamed jar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, store, err := openPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		req := remapReq
		req.Input = args[0]
		fmt.Printf("🚀 Remapping %s as %s\n", req.Input, req.Version)
		res, err := p.Remap(cmd.Context(), req)
		if err != nil {
			return err
		}
		if n := len(res.Mapping.Unresolved); n > 0 {
			fmt.Printf("  -> %d symbols left unresolved, see `jremap coverage`\n", n)
		}
		if res.Multipliers > 0 {
			fmt.Printf("  -> %d field multipliers recorded\n", res.Multipliers)
		}
		return nil
	},
}

var correctReq pipeline.CorrectRequest

var correctCmd = &cobra.Command{
	Use:   "correct <version> <sources>",
	Short: "Fold @ObfuscatedName-annotated sources into a new mapping revision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, store, err := openPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		req := correctReq
		req.Version, req.Sources = args[0], args[1]
		res, err := p.Correct(cmd.Context(), req)
		if err != nil {
			return err
		}
		for _, c := range res.Rejected {
			fmt.Printf("⚠️  %s: no single %s %s.%s%s\n", c.Source, c.Kind, c.Owner, c.Obfuscated, c.Descriptor)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [version]",
	Short: "List stored versions, or the revisions of one version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		if len(args) == 0 {
			versions, err := store.Versions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "VERSION\tREVISIONS\tUPDATED")
			for _, v := range versions {
				fmt.Fprintf(w, "%s\t%d\t%s\n", v.Version, v.Revisions, v.UpdatedAt.Local().Format(time.DateTime))
			}
			return nil
		}

		revs, err := store.Revisions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "REVISION\tPARENT\tRESOLVED\tUNRESOLVED\tPROVENANCE\tCREATED")
		for _, r := range revs {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
				r.Revision, r.Parent, r.Resolved, r.Unresolved, r.Provenance, r.CreatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var (
	showRevision int
	showClasses  bool
)

var showCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Print a stored mapping as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, store, err := openPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := p.Show(cmd.Context(), args[0], showRevision)
		if err != nil {
			return err
		}
		if showClasses {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec.Mapping.Classes())
		}
		data, err := mapping.Marshal(rec.Mapping)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var decompileCmd = &cobra.Command{
	Use:   "decompile <input.jar> <dir>",
	Short: "Run the configured decompiler and write Java sources to dir",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, store, err := openPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		_, err = p.Decompile(cmd.Context(), args[0], args[1])
		return err
	},
}

var (
	coverageRevision int
	coverageTop      int
	coverageJSON     bool
)

var coverageCmd = &cobra.Command{
	Use:   "coverage <input.jar> <version>",
	Short: "Report resolved symbols and the most referenced gaps",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, store, err := openPipeline()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := p.Coverage(cmd.Context(), args[0], args[1], coverageRevision)
		if err != nil {
			return err
		}
		if coverageJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("📊 %s revision %d: %d of %d symbols named (%.1f%%)\n",
			report.Version, report.Revision, report.Resolved, report.Total, 100*report.Ratio())
		for _, kind := range []graph.Kind{graph.KindType, graph.KindField, graph.KindMethod} {
			if kc, ok := report.ByKind[kind]; ok {
				fmt.Printf("  -> %s: %d/%d\n", kind, kc.Resolved, kc.Total)
			}
		}
		gaps := report.Gaps
		if coverageTop > 0 && len(gaps) > coverageTop {
			gaps = gaps[:coverageTop]
		}
		if len(gaps) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "USES\tID\tOBFUSCATED\tREASON")
		for _, g := range gaps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", g.UseSites, g.ID, g.Obfuscated, g.Reason)
		}
		return nil
	},
}

func init() {
	remapCmd.Flags().StringVarP(&remapReq.Output, "output", "o", "", "Path of the renamed jar")
	remapCmd.Flags().StringVar(&remapReq.Version, "version", "", "Version label of the input build")
	remapCmd.Flags().StringVar(&remapReq.Prior, "prior", "", "Version to carry names from (default: most recently stored)")
	remapCmd.Flags().StringVar(&remapReq.Anchors, "anchors", "", "Anchor table, overrides anchors.path")
	remapCmd.Flags().StringVarP(&remapReq.MappingOut, "mapping", "m", "", "Also write the mapping JSON here")
	remapCmd.Flags().StringVar(&remapReq.IndexOut, "dump-index", "", "Also write the input's reference index as JSON here")
	_ = remapCmd.MarkFlagRequired("output")
	_ = remapCmd.MarkFlagRequired("version")

	correctCmd.Flags().StringVar(&correctReq.Provenance, "provenance", "", "Provenance recorded on corrected entries")
	correctCmd.Flags().StringVar(&correctReq.Input, "input", "", "Original jar of the version, to re-apply the corrected mapping")
	correctCmd.Flags().StringVarP(&correctReq.Output, "output", "o", "", "Path of the re-renamed jar (with --input)")
	correctCmd.Flags().StringVarP(&correctReq.MappingOut, "mapping", "m", "", "Also write the mapping JSON here")
	correctCmd.MarkFlagsRequiredTogether("input", "output")

	showCmd.Flags().IntVarP(&showRevision, "revision", "r", 0, "Revision to show (default: latest)")
	showCmd.Flags().BoolVar(&showClasses, "classes", false, "Group entries per class")

	coverageCmd.Flags().IntVarP(&coverageRevision, "revision", "r", 0, "Revision to report (default: latest)")
	coverageCmd.Flags().IntVarP(&coverageTop, "top", "n", 20, "Number of gaps to list, 0 for all")
	coverageCmd.Flags().BoolVar(&coverageJSON, "json", false, "Print the full report as JSON")
}
