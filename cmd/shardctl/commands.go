package main

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/scheduler"
	"github.com/dreamware/shardtopo/internal/shard"
	"github.com/dreamware/shardtopo/internal/topology"
	"github.com/dreamware/shardtopo/internal/transform"
)

var (
	errAborted   = errors.New("aborted")
	errUnhealthy = errors.New("unhealthy shard managers")
)

var commands map[string]command

func init() {
	commands = map[string]command{
		"forwardings":    {"[-table ids]", "list forwardings by table and base id", cmdForwardings},
		"addforwarding":  {"TABLE BASE SHARD", "route a range key to a root shard", cmdAddForwarding},
		"lookup":         {"TABLE SOURCE", "print the root shard serving a source id", cmdLookup},
		"links":          {"SHARD...", "list the up and down links of shards", cmdLinks},
		"info":           {"SHARD...", "print shard infos", cmdInfo},
		"busy":           {"", "list shards with a copy in flight", cmdBusy},
		"hosts":          {"", "list hostnames that carry shards", cmdHosts},
		"find":           {"-host HOST [-type REGEXP]", "list the shards of a host", cmdFind},
		"subtree":        {"SHARD...", "print the trees containing shards", cmdSubtree},
		"manifest":       {"[-table id] [-format text|yaml]", "group forwardings by tree shape", cmdManifest},
		"canonical":      {"[-table id] [-base prefix] [-with-table]", "print renames to canonical shard ids", cmdCanonical},
		"status":         {"[-watch interval] [-failures n]", "probe every configured shard manager", cmdStatus},
		"reload":         {"[-config]", "make every host reload forwardings or config", cmdReload},
		"create":         {"[-source-type T] [-destination-type T] HOST TABLE CLASS", "create a shard", cmdCreate},
		"delete":         {"SHARD...", "delete shards", cmdDelete},
		"addlink":        {"UP DOWN WEIGHT", "link two shards", cmdAddLink},
		"unlink":         {"UP DOWN", "remove a link", cmdUnlink},
		"wrap":           {"CLASS SHARD...", "insert a wrapper above shards", cmdWrap},
		"unwrap":         {"SHARD...", "remove shards, linking parents to children", cmdUnwrap},
		"copy":           {"FROM TO", "start a shard copy", cmdCopy},
		"setup-migrate":  {"FROM TO", "put a migration replica in front of FROM", cmdSetupMigrate},
		"finish-migrate": {"FROM TO", "replace FROM with TO after a copy", cmdFinishMigrate},
		"migrate":        {"[-max-copies n] [-copies-per-host n] [-poll d] FROM TO [FROM TO...]", "migrate shards under admission control", cmdMigrate},
	}
}

func parseIDs(args []string) ([]cluster.ShardID, error) {
	ids := make([]cluster.ShardID, len(args))
	for i, a := range args {
		id, err := cluster.ParseShardID(a)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func parseTable(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: table id %q", cluster.ErrInvalidArgument, s)
	}
	return int32(n), nil
}

func cmdForwardings(e *env, args []string) error {
	sc := newSubcommand("forwardings", 0, 0)
	tables := sc.String("table", "", "comma separated table ids to keep")
	if _, err := sc.parse(args); err != nil {
		return err
	}
	keep := map[int32]bool{}
	for _, t := range splitList(*tables) {
		id, err := parseTable(t)
		if err != nil {
			return err
		}
		keep[id] = true
	}

	fs, err := e.client.GetForwardings(e.ctx)
	if err != nil {
		return err
	}
	slices.SortFunc(fs, cluster.ForwardingOrder)
	for _, f := range fs {
		if len(keep) > 0 && !keep[f.TableID] {
			continue
		}
		e.println(f)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func cmdAddForwarding(e *env, args []string) error {
	args, err := newSubcommand("addforwarding", 3, 3).parse(args)
	if err != nil {
		return err
	}
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	base, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: base id %q", cluster.ErrInvalidArgument, args[1])
	}
	id, err := cluster.ParseShardID(args[2])
	if err != nil {
		return err
	}
	f := cluster.Forwarding{TableID: table, BaseID: base, ShardID: id}
	if err := e.client.SetForwarding(e.ctx, f); err != nil {
		return err
	}
	e.println(f)
	return nil
}

func cmdLookup(e *env, args []string) error {
	args, err := newSubcommand("lookup", 2, 2).parse(args)
	if err != nil {
		return err
	}
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	source, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: source id %q", cluster.ErrInvalidArgument, args[1])
	}
	info, err := e.client.FindCurrentForwarding(e.ctx, table, source)
	if err != nil {
		return err
	}
	e.println(info.ID)
	return nil
}

func cmdLinks(e *env, args []string) error {
	args, err := newSubcommand("links", 1, -1).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		up, err := e.client.ListUpwardLinks(e.ctx, id)
		if err != nil {
			return err
		}
		down, err := e.client.ListDownwardLinks(e.ctx, id)
		if err != nil {
			return err
		}
		for _, l := range append(up, down...) {
			e.println(l)
		}
	}
	return nil
}

func cmdInfo(e *env, args []string) error {
	args, err := newSubcommand("info", 1, -1).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		info, err := e.client.GetShard(e.ctx, id)
		if err != nil {
			return err
		}
		e.println(info)
	}
	return nil
}

func cmdBusy(e *env, args []string) error {
	if _, err := newSubcommand("busy", 0, 0).parse(args); err != nil {
		return err
	}
	infos, err := e.client.GetBusyShards(e.ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		e.println(info)
	}
	return nil
}

func cmdHosts(e *env, args []string) error {
	if _, err := newSubcommand("hosts", 0, 0).parse(args); err != nil {
		return err
	}
	hosts, err := e.client.ListHostnames(e.ctx)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		e.println(h)
	}
	return nil
}

func cmdFind(e *env, args []string) error {
	sc := newSubcommand("find", 0, 0)
	host := sc.String("host", "", "hostname to list")
	typ := sc.String("type", "", "keep shards whose class name matches")
	if _, err := sc.parse(args); err != nil {
		return err
	}
	if *host == "" {
		return sc.usageError("-host is required")
	}
	var re *regexp.Regexp
	if *typ != "" {
		var err error
		if re, err = regexp.Compile(*typ); err != nil {
			return fmt.Errorf("%w: -type: %v", cluster.ErrInvalidArgument, err)
		}
	}

	infos, err := e.client.ShardsForHostname(e.ctx, *host)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if re != nil && !re.MatchString(info.ClassName) {
			continue
		}
		e.println(info.ID)
	}
	return nil
}

func cmdSubtree(e *env, args []string) error {
	args, err := newSubcommand("subtree", 1, -1).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	roots, err := e.client.Roots(e.ctx, ids...)
	if err != nil {
		return err
	}
	for _, root := range roots {
		entries, err := e.client.Subtree(e.ctx, root)
		if err != nil {
			return err
		}
		for _, en := range entries {
			e.println(strings.Repeat("  ", en.Depth) + en.ID.String())
		}
	}
	return nil
}

func manifestFor(e *env, table string) (*topology.Manifest, error) {
	if table == "" {
		return e.client.Manifest(e.ctx)
	}
	id, err := parseTable(table)
	if err != nil {
		return nil, err
	}
	return e.client.TableManifest(e.ctx, id)
}

func cmdManifest(e *env, args []string) error {
	sc := newSubcommand("manifest", 0, 0)
	table := sc.String("table", "", "only forwardings of this table")
	format := sc.String("format", "text", "text or yaml")
	if _, err := sc.parse(args); err != nil {
		return err
	}
	if *format != "text" && *format != "yaml" {
		return sc.usageError(fmt.Sprintf("unknown format %q", *format))
	}

	m, err := manifestFor(e, *table)
	if err != nil {
		return err
	}
	if *format == "yaml" {
		enc := yaml.NewEncoder(e.out)
		enc.SetIndent(2)
		if err := enc.Encode(m.Templates); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, g := range m.Templates {
		e.println(g.Template)
		fs := slices.Clone(g.Forwardings)
		slices.SortFunc(fs, cluster.ForwardingOrder)
		for _, f := range fs {
			e.println("  " + f.String())
		}
	}
	return nil
}

func cmdCanonical(e *env, args []string) error {
	sc := newSubcommand("canonical", 0, 0)
	table := sc.String("table", "", "only forwardings of this table")
	base := sc.String("base", shard.DefaultBasePrefix, "base table prefix")
	withTable := sc.Bool("with-table", false, "include the table id in canonical prefixes")
	if _, err := sc.parse(args); err != nil {
		return err
	}

	m, err := manifestFor(e, *table)
	if err != nil {
		return err
	}
	fs := slices.Clone(m.Forwardings)
	slices.SortFunc(fs, cluster.ForwardingOrder)
	for _, f := range fs {
		opts := shard.NamingOptions{BasePrefix: *base}
		if *withTable {
			tid := f.TableID
			opts.TableID = &tid
		}
		tree := m.Trees[f]
		canon, err := shard.CanonicalShardIDMap(tree, opts)
		if err != nil {
			return fmt.Errorf("forwarding %s: %w", f, err)
		}
		byReal := make(map[cluster.ShardID]cluster.ShardID, len(canon))
		for c, r := range canon {
			byReal[r] = c
		}
		printed := make(map[cluster.ShardID]bool)
		tree.Walk(func(n *shard.Shard, _ int) {
			c := byReal[n.ID()]
			if c == n.ID() || printed[n.ID()] {
				return
			}
			printed[n.ID()] = true
			fmt.Fprintf(e.out, "%s\t%s\n", n.ID(), c)
		})
	}
	return nil
}

func cmdStatus(e *env, args []string) error {
	sc := newSubcommand("status", 0, 0)
	watch := sc.Duration("watch", 0, "keep probing at this interval until interrupted")
	failures := sc.Int("failures", 3, "failed probes in a row before a watched host is unhealthy")
	if _, err := sc.parse(args); err != nil {
		return err
	}

	if *watch > 0 {
		h := topology.NewHealthMonitor(e.client, *watch, *failures)
		h.SetOnUnhealthy(func(host string) {
			fmt.Fprintf(e.out, "%s\t%s\n", host, topology.StatusUnhealthy)
		})
		h.Run(e.ctx)
		return nil
	}

	var down int
	for _, hh := range topology.NewHealthMonitor(e.client, time.Minute, 1).CheckOnce(e.ctx) {
		if hh.Status != topology.StatusHealthy {
			down++
			fmt.Fprintf(e.out, "%s\t%s\t%v\n", hh.Host, hh.Status, hh.LastErr)
			continue
		}
		fmt.Fprintf(e.out, "%s\t%s\t%v\n", hh.Host, hh.Status, hh.Latency.Round(time.Microsecond))
	}
	if down > 0 {
		return fmt.Errorf("%w: %d of %d", errUnhealthy, down, len(e.client.Hosts()))
	}
	return nil
}

func cmdReload(e *env, args []string) error {
	sc := newSubcommand("reload", 0, 0)
	full := sc.Bool("config", false, "reload the full configuration instead of forwardings")
	if _, err := sc.parse(args); err != nil {
		return err
	}
	if !e.force {
		e.println("Are you sure? Reloading will affect production services immediately! (Type 'yes')")
		answer, err := e.in.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			if err != nil && answer == "" {
				return fmt.Errorf("%w: %v", errAborted, err)
			}
			return errAborted
		}
	}
	if *full {
		return e.client.ReloadConfig(e.ctx)
	}
	return e.client.ReloadForwardings(e.ctx)
}

func cmdCreate(e *env, args []string) error {
	sc := newSubcommand("create", 3, 3)
	source := sc.String("source-type", "", "source type")
	dest := sc.String("destination-type", "", "destination type")
	args, err := sc.parse(args)
	if err != nil {
		return err
	}
	info := cluster.ShardInfo{
		ID:              cluster.ShardID{Hostname: args[0], TablePrefix: args[1]},
		ClassName:       args[2],
		SourceType:      *source,
		DestinationType: *dest,
	}
	if err := e.client.CreateShard(e.ctx, info); err != nil {
		return err
	}
	e.println(info.ID)
	return nil
}

func cmdDelete(e *env, args []string) error {
	args, err := newSubcommand("delete", 1, -1).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.client.DeleteShard(e.ctx, id); err != nil {
			return err
		}
		e.println(id)
	}
	return nil
}

func cmdAddLink(e *env, args []string) error {
	args, err := newSubcommand("addlink", 3, 3).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args[:2])
	if err != nil {
		return err
	}
	w, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: weight %q", cluster.ErrInvalidArgument, args[2])
	}
	link := cluster.LinkInfo{UpID: ids[0], DownID: ids[1], Weight: int32(w)}
	if err := e.client.AddLink(e.ctx, link.UpID, link.DownID, link.Weight); err != nil {
		return err
	}
	e.println(link)
	return nil
}

func cmdUnlink(e *env, args []string) error {
	args, err := newSubcommand("unlink", 2, 2).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	return e.client.RemoveLink(e.ctx, ids[0], ids[1])
}

func cmdWrap(e *env, args []string) error {
	args, err := newSubcommand("wrap", 2, -1).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		return err
	}
	for _, id := range ids {
		wrapper, err := transform.Wrap(e.ctx, e.client, args[0], id)
		if err != nil {
			return err
		}
		e.println(wrapper)
	}
	return nil
}

func cmdUnwrap(e *env, args []string) error {
	args, err := newSubcommand("unwrap", 1, -1).parse(args)
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		created, err := transform.Unwrap(e.ctx, e.client, id)
		if err != nil {
			return err
		}
		for _, l := range created {
			e.println(l)
		}
	}
	return nil
}

func pair(name string, args []string) (from, to cluster.ShardID, err error) {
	if args, err = newSubcommand(name, 2, 2).parse(args); err != nil {
		return from, to, err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return from, to, err
	}
	return ids[0], ids[1], nil
}

func cmdCopy(e *env, args []string) error {
	from, to, err := pair("copy", args)
	if err != nil {
		return err
	}
	return e.client.CopyShard(e.ctx, from, to)
}

func cmdSetupMigrate(e *env, args []string) error {
	from, to, err := pair("setup-migrate", args)
	if err != nil {
		return err
	}
	replica, err := transform.SetupMigrate(e.ctx, e.client, from, to)
	if err != nil {
		return err
	}
	e.println(replica)
	return nil
}

func cmdFinishMigrate(e *env, args []string) error {
	from, to, err := pair("finish-migrate", args)
	if err != nil {
		return err
	}
	return transform.FinishMigrate(e.ctx, e.client, from, to, e.force)
}

func cmdMigrate(e *env, args []string) error {
	opts := e.cfg.SchedulerOptions()
	sc := newSubcommand("migrate", 2, -1)
	sc.IntVar(&opts.MaxCopies, "max-copies", opts.MaxCopies, "busy shards allowed fleet wide")
	sc.IntVar(&opts.CopiesPerHost, "copies-per-host", opts.CopiesPerHost, "busy shards allowed per host")
	sc.DurationVar(&opts.PollInterval, "poll", opts.PollInterval, "pause between busy shard polls")
	args, err := sc.parse(args)
	if err != nil {
		return err
	}
	if len(args)%2 != 0 {
		return sc.usageError("shards must come in FROM TO pairs")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	jobs := make([]scheduler.Job, 0, len(ids)/2)
	for i := 0; i < len(ids); i += 2 {
		jobs = append(jobs, transform.Migration{Source: ids[i], Destination: ids[i+1], Force: e.force})
	}
	opts.Observer = scheduler.ProgressPrinter(e.out)
	s := scheduler.New(e.client, jobs, opts)
	if err := s.Run(e.ctx); err != nil {
		return err
	}
	e.println()
	for _, j := range s.Finished() {
		e.println(j.Describe(scheduler.PhaseCleanup))
	}
	return nil
}
