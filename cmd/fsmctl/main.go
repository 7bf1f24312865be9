// Command fsmctl administers the job queue: list, add, update status,
// delete (spec.md §6 "Job admin").
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/fsmhost/fsmhost/internal/config"
	"github.com/fsmhost/fsmhost/internal/jobsadmin"
	"github.com/fsmhost/fsmhost/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 || args[0] != "job" {
		usage()
		return 2
	}
	if len(args) < 2 {
		usage()
		return 2
	}

	st, cleanup, code := openStore()
	if code != 0 {
		return code
	}
	defer cleanup()

	admin := jobsadmin.New(st)

	switch args[1] {
	case "list":
		return cmdList(admin, args[2:])
	case "add":
		return cmdAdd(admin, args[2:])
	case "update":
		return cmdUpdate(admin, args[2:])
	case "delete":
		return cmdDelete(admin, args[2:])
	default:
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fsmctl job <command> [flags]

Commands:
  list   [--status STATUS]
  add    --type TYPE [--data JSON] [--priority N]
  update --id ID --status STATUS
  delete --id ID`)
}

func openStore() (*store.Store, func(), int) {
	cfgPath, err := config.FindConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return nil, nil, 1
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return nil, nil, 1
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		return nil, nil, 1
	}
	return st, func() { st.Close() }, 0
}

func cmdList(admin *jobsadmin.Admin, args []string) int {
	fs := flag.NewFlagSet("job list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status (pending, processing, completed, failed)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobs, err := admin.List(*status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	for _, j := range jobs {
		fmt.Printf("%s\t%s\t%s\tpriority=%d\n", j.ID, j.Type, j.Status, j.Priority)
	}
	return 0
}

func cmdAdd(admin *jobsadmin.Admin, args []string) int {
	fs := flag.NewFlagSet("job add", flag.ContinueOnError)
	jobType := fs.String("type", "", "job type (required)")
	dataJSON := fs.String("data", "{}", "job data as a JSON object")
	priority := fs.Int("priority", 0, "priority (lower claims first; 0 = default)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *jobType == "" {
		fmt.Fprintln(os.Stderr, "--type is required")
		return 2
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
		fmt.Fprintf(os.Stderr, "--data: invalid JSON: %v\n", err)
		return 2
	}

	id, err := admin.Add(*jobType, data, *priority)
	if err != nil {
		fmt.Fprintf(os.Stderr, "add: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func cmdUpdate(admin *jobsadmin.Admin, args []string) int {
	fs := flag.NewFlagSet("job update", flag.ContinueOnError)
	id := fs.String("id", "", "job id (required)")
	status := fs.String("status", "", "completed or failed (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" || *status == "" {
		fmt.Fprintln(os.Stderr, "--id and --status are required")
		return 2
	}

	if err := admin.UpdateStatus(*id, *status); err != nil {
		fmt.Fprintf(os.Stderr, "update: %v\n", err)
		return 1
	}
	return 0
}

func cmdDelete(admin *jobsadmin.Admin, args []string) int {
	fs := flag.NewFlagSet("job delete", flag.ContinueOnError)
	id := fs.String("id", "", "job id (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
		return 2
	}

	if err := admin.Delete(*id); err != nil {
		fmt.Fprintf(os.Stderr, "delete: %v\n", err)
		return 1
	}
	return 0
}
