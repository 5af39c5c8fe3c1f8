// cartctl is a command-line client for cartd.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"portal-cart/internal/cart"
	"portal-cart/internal/facet"
	"portal-cart/internal/model"
	"portal-cart/internal/reconcile"
)

// options holds the global flags shared by every command.
type options struct {
	server  string
	session string
	user    string
	anon    string
	version string
	wait    bool
	asJSON  bool
	timeout time.Duration
}

// cartView is the cart as cartd returns it.
type cartView struct {
	cart.State
	MaxElements int `json:"max_elements"`
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "cartctl",
		Short: "Inspect and edit portal carts through cartd",
		Long: `cartctl talks to a running cartd. The session is identified by
--user (a portal user @id) or --anon (an anonymous token); with neither,
cartd mints an anonymous session and cartctl prints it for reuse.

Examples:
  cartctl --user /users/u1/ get
  cartctl --user /users/u1/ --wait add /experiments/ENCSR000AAA/
  cartctl --anon 5f0c... facets --term assay_term_name=ChIP-seq`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr("CARTD_URL", "http://localhost:8080"), "cartd base URL")
	flags.StringVar(&opts.session, "session", "", "raw Cart-Session header value")
	flags.StringVarP(&opts.user, "user", "u", "", "portal user @id")
	flags.StringVar(&opts.anon, "anon", "", "anonymous session token")
	flags.StringVar(&opts.version, "client-version", "", "client version sent with the session")
	flags.BoolVarP(&opts.wait, "wait", "w", false, "wait for queued saves before printing")
	flags.BoolVar(&opts.asJSON, "json", false, "print raw JSON")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(
		getCmd(opts),
		elementsCmd(opts, "add", "Add datasets to the active cart", "POST"),
		elementsCmd(opts, "remove", "Remove datasets and their files from the active cart", "DELETE"),
		simpleCartCmd(opts, "clear", "Remove every dataset from the active cart", "POST", "/cart/clear"),
		simpleCartCmd(opts, "reload", "Discard local edits and reload the saved cart", "POST", "/cart/reload"),
		simpleCartCmd(opts, "dismiss", "Dismiss the cart's alert", "DELETE", "/cart/alert"),
		settingsCmd(opts),
		createCmd(opts),
		cartRefCmd(opts, "switch", "Make another cart the active one", "/cart/switch"),
		cartRefCmd(opts, "delete", "Delete a cart other than the active one", "/cart/delete"),
		facetsCmd(opts),
		viewCmd(opts),
		driftCmd(opts),
		sharedCmd(opts),
	)
	return root
}

// client builds the API client from the global flags.
func (o *options) client() (*client, error) {
	header, err := sessionHeader(o.session, o.user, o.anon, o.version)
	if err != nil {
		return nil, err
	}
	return newClient(o.server, header, o.wait, o.timeout), nil
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the active cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCart(cmd, opts, "GET", "/cart", nil)
		},
	}
}

func elementsCmd(opts *options, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <@id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCart(cmd, opts, method, "/cart/elements", map[string][]string{"elements": args})
		},
	}
}

func simpleCartCmd(opts *options, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCart(cmd, opts, method, path, nil)
		},
	}
}

func settingsCmd(opts *options) *cobra.Command {
	var (
		name, identifier, description, status string
		locked                                 bool
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Edit the active cart's name, identifier, description, status or lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			f := cmd.Flags()
			if f.Changed("name") {
				body["name"] = name
			}
			if f.Changed("identifier") {
				body["identifier"] = identifier
			}
			if f.Changed("description") {
				body["description"] = description
			}
			if f.Changed("status") {
				body["status"] = status
			}
			if f.Changed("locked") {
				body["locked"] = locked
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to change")
			}
			return runCart(cmd, opts, "PATCH", "/cart", body)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "cart name")
	cmd.Flags().StringVar(&identifier, "identifier", "", "cart identifier")
	cmd.Flags().StringVar(&description, "description", "", "cart description")
	cmd.Flags().StringVar(&status, "status", "", "current, listed or unlisted")
	cmd.Flags().BoolVar(&locked, "locked", false, "lock the cart against edits")
	return cmd
}

func createCmd(opts *options) *cobra.Command {
	var identifier, status string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a cart and make it the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"name": args[0]}
			if identifier != "" {
				body["identifier"] = identifier
			}
			if status != "" {
				body["status"] = status
			}
			return runCart(cmd, opts, "POST", "/carts", body)
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "identifier; derived from the name when empty")
	cmd.Flags().StringVar(&status, "status", "", "initial status")
	return cmd
}

func cartRefCmd(opts *options, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <cart @id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCart(cmd, opts, "POST", path, map[string]string{"cart": args[0]})
		},
	}
}

func facetsCmd(opts *options) *cobra.Command {
	var (
		preset string
		terms  []string
		fields []string
	)
	cmd := &cobra.Command{
		Use:   "facets",
		Short: "Summarize the active cart's datasets or their files by field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := parseTerms(terms)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var res facet.Result
			body := map[string]any{"selected_terms": selected, "preset": preset, "fields": fields}
			if err := c.do(cmd.Context(), "POST", "/cart/facets", body, &res); err != nil {
				return err
			}
			reportMinted(cmd, c)
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			noun := "datasets"
			if preset == "files" {
				noun = "files"
			}
			printFacets(cmd.OutOrStdout(), res, noun)
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "", "datasets (default) or files")
	cmd.Flags().StringArrayVar(&terms, "term", nil, "selected term as field=value; repeatable")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "explicit field paths instead of a preset")
	return cmd
}

func viewCmd(opts *options) *cobra.Command {
	view := &cobra.Command{
		Use:   "view",
		Short: "Manage the active cart's file views",
	}
	view.AddCommand(
		&cobra.Command{
			Use:   "add <title>",
			Short: "Create an empty file view",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCart(cmd, opts, "POST", "/cart/file-views", map[string]string{"title": args[0]})
			},
		},
		&cobra.Command{
			Use:   "remove <title>",
			Short: "Delete a file view",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCart(cmd, opts, "DELETE", "/cart/file-views/"+escapeTitle(args[0]), nil)
			},
		},
		&cobra.Command{
			Use:   "add-files <title> <file @id>...",
			Short: "Add files to a file view",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCart(cmd, opts, "POST", "/cart/file-views/"+escapeTitle(args[0])+"/files",
					map[string][]string{"files": args[1:]})
			},
		},
		&cobra.Command{
			Use:   "remove-files <title> <file @id>...",
			Short: "Remove files from a file view",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCart(cmd, opts, "DELETE", "/cart/file-views/"+escapeTitle(args[0])+"/files",
					map[string][]string{"files": args[1:]})
			},
		},
	)
	return view
}

func driftCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Show how the active cart differs from its saved copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var d reconcile.Drift
			if err := c.do(cmd.Context(), "GET", "/cart/drift", nil, &d); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printDrift(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func sharedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shared <cart @id>",
		Short: "Show the saved contents of any readable cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var obj model.CartObject
			if err := c.do(cmd.Context(), "GET", "/shared?cart="+escapeQuery(args[0]), nil, &obj); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), obj)
		},
	}
}

// runCart sends a request answered with the cart and prints the result.
func runCart(cmd *cobra.Command, opts *options, method, path string, body any) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	var view cartView
	if err := c.do(cmd.Context(), method, path, body, &view); err != nil {
		return err
	}
	reportMinted(cmd, c)
	if view.Elements == nil {
		// 204 answers carry no cart.
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}
	if opts.asJSON {
		return printJSON(cmd.OutOrStdout(), view)
	}
	printCart(cmd.OutOrStdout(), view)
	return nil
}

// reportMinted prints a session cartd issued so later calls can reuse it.
func reportMinted(cmd *cobra.Command, c *client) {
	if c.minted != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", c.minted)
	}
}

// parseTerms turns field=value pairs into selected terms.
func parseTerms(pairs []string) (facet.SelectedTerms, error) {
	selected := facet.SelectedTerms{}
	for _, p := range pairs {
		field, value, ok := strings.Cut(p, "=")
		if !ok || field == "" || value == "" {
			return nil, fmt.Errorf("invalid --term %q, want field=value", p)
		}
		selected[field] = append(selected[field], value)
	}
	return selected, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCart(w io.Writer, v cartView) {
	name := v.Name
	if name == "" {
		name = "(unsaved)"
	}
	fmt.Fprintf(w, "Cart:      %s\n", name)
	if v.Current != "" {
		fmt.Fprintf(w, "@id:       %s\n", v.Current)
	}
	if v.Status != "" {
		fmt.Fprintf(w, "Status:    %s\n", v.Status)
	}
	if v.Locked {
		fmt.Fprintln(w, "Locked:    yes")
	}
	fmt.Fprintf(w, "Elements:  %d of %d\n", len(v.Elements), v.MaxElements)
	for _, e := range v.Elements {
		fmt.Fprintf(w, "  %s\n", e)
	}
	for _, fv := range v.FileViews {
		fmt.Fprintf(w, "View %q:  %d files\n", fv.Title, len(fv.Files))
	}
	if v.InProgress {
		fmt.Fprintln(w, "Saving...")
	}
	if v.Alert != nil {
		fmt.Fprintf(w, "Alert:     %s: %s\n", v.Alert.Code, v.Alert.Message)
	}
}

func printFacets(w io.Writer, res facet.Result, noun string) {
	fmt.Fprintf(w, "%d selected %s\n", len(res.Selected), noun)
	for _, f := range res.Facets {
		if len(f.Terms) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", f.Title)
		for _, t := range f.Terms {
			fmt.Fprintf(w, "  %-40s %d\n", t.Term, t.Count)
		}
	}
}

func printDrift(w io.Writer, d reconcile.Drift) {
	if d.Elements == nil {
		d.Elements = &reconcile.ElementDiff{}
	}
	if d.IsEmpty() {
		fmt.Fprintln(w, "in sync")
		return
	}
	if !d.Saved {
		fmt.Fprintln(w, "never saved")
	}
	for _, e := range d.Elements.ToAdd {
		fmt.Fprintf(w, "+ %s\n", e)
	}
	for _, e := range d.Elements.ToRemove {
		fmt.Fprintf(w, "- %s\n", e)
	}
	for _, v := range d.FileViews {
		switch {
		case v.Created:
			fmt.Fprintf(w, "+ view %q\n", v.Title)
		case v.Deleted:
			fmt.Fprintf(w, "- view %q\n", v.Title)
		default:
			fmt.Fprintf(w, "~ view %q\n", v.Title)
		}
	}
	for _, field := range d.Changed {
		fmt.Fprintf(w, "~ %s\n", field)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
