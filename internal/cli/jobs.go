package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsForceStopCmd)
	jobsCmd.AddCommand(jobsQueueCmd)

	jobsListCmd.Flags().String("status", "", "Filter by status (QUEUED, FAILED, ...)")
	jobsListCmd.Flags().Int("limit", 20, "Number of jobs to show")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control generation jobs",
}

// ─── jobs list ──────────────────────────────────────────────────────────────

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generation jobs",
	RunE:  runJobsList,
}

func runJobsList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	resp, err := apiCall(http.MethodGet,
		"/admin/jobs?status="+status+"&limit="+strconv.Itoa(limit), "")
	if err != nil {
		return err
	}

	jobs, _ := resp["jobs"].([]interface{})
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}
	for _, j := range jobs {
		job := j.(map[string]interface{})
		fmt.Printf("%s  %-20s %3v%%  account=%v", job["id"], job["status"], job["progress"], job["account_id"])
		if errMsg, ok := job["error"].(string); ok && errMsg != "" {
			fmt.Printf("  error=%q", errMsg)
		}
		fmt.Println()
	}
	return nil
}

// ─── jobs show ──────────────────────────────────────────────────────────────

var jobsShowCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Show one job, with its deck when completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	resp, err := apiCall(http.MethodGet, "/v1/generations/"+args[0], "")
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

// ─── jobs retry ─────────────────────────────────────────────────────────────

var jobsRetryCmd = &cobra.Command{
	Use:   "retry JOB_ID",
	Short: "Requeue a failed job",
	Long: `Return a FAILED job to the queue. The retry run places a fresh
credit hold; only failed jobs can be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsRetry,
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	resp, err := apiCall(http.MethodPost, "/admin/jobs/"+args[0]+"/retry", "")
	if err != nil {
		return err
	}
	fmt.Printf("Job %v requeued (status %v)\n", resp["id"], resp["status"])
	return nil
}

// ─── jobs cancel ────────────────────────────────────────────────────────────

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel a queued or running job",
	Long: `Request cancellation. Queued jobs stop immediately; running jobs
stop at the next stage boundary. Held credits are returned either way.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCancel,
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	resp, err := apiCall(http.MethodPost, "/admin/jobs/"+args[0]+"/cancel", "")
	if err != nil {
		return err
	}
	fmt.Printf("Job %v: %v\n", resp["id"], resp["status"])
	return nil
}

// ─── jobs force-stop ────────────────────────────────────────────────────────

var jobsForceStopCmd = &cobra.Command{
	Use:   "force-stop",
	Short: "Terminate every active job and release all holds",
	RunE:  runJobsForceStop,
}

func runJobsForceStop(cmd *cobra.Command, args []string) error {
	resp, err := apiCall(http.MethodPost, "/admin/force-stop", "")
	if err != nil {
		return err
	}
	fmt.Printf("Stopped %v jobs.\n", resp["stopped"])
	return nil
}

// ─── jobs queue ─────────────────────────────────────────────────────────────

var jobsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue depth and worker statistics",
	RunE:  runJobsQueue,
}

func runJobsQueue(cmd *cobra.Command, args []string) error {
	resp, err := apiCall(http.MethodGet, "/admin/queue", "")
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}
