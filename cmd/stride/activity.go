package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stridehq/stride/internal/regen"
	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/internal/ui"
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	GroupID: "core",
	Short:   "Manage the active goal's activities",
}

var activityAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an activity to today's set",
	Long: `Add an activity for today under the active goal. The title and
points also become a template: future days regenerate one pending activity
per distinct title.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		points, _ := cmd.Flags().GetInt("points")

		cfg := loadConfig()
		creds := newCreds(cfg)
		identity := requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		goal, err := st.ActiveGoal(ctx, identity.UserID)
		if err != nil {
			fatal("no active goal, create one with `stride goal add`")
		}

		id, err := st.CreateActivity(ctx, &schema.Activity{
			SyncMeta: schema.SyncMeta{OwnerID: identity.UserID},
			GoalID:   goal.LocalID,
			Title:    args[0],
			Points:   points,
			Status:   schema.ActivityPending,
			Date:     schema.DateString(time.Now()),
		})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %s (%d points)\n", ui.Pass("✓"), args[0], points)
		fmt.Println(ui.Dim("  id: " + id))
	},
}

var activityStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start the timer on a pending activity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		act, err := st.GetActivity(ctx, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if act.Status != schema.ActivityPending {
			fatal("activity is %s, only pending activities can start", act.Status)
		}
		now := time.Now()
		err = st.UpdateActivity(ctx, act.LocalID, map[string]any{
			"status":     schema.ActivityActive,
			"started_at": now,
		})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %s started\n", ui.ActiveMark, act.Title)
	},
}

var activityDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Complete an activity",
	Long: `Complete an activity. A started activity records its elapsed
minutes, at least one; an activity completed straight from pending keeps
its configured points with no duration.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		act, err := st.GetActivity(ctx, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if act.Status == schema.ActivityDone {
			fmt.Printf("%s %s was already done\n", ui.DoneMark, act.Title)
			return
		}
		if act.Status == schema.ActivityExpired {
			fatal("activity expired on %s", act.Date)
		}

		now := time.Now()
		fields := map[string]any{
			"status":       schema.ActivityDone,
			"completed_at": now,
		}
		if act.StartedAt != nil {
			minutes := int(now.Sub(*act.StartedAt).Minutes())
			if minutes < 1 {
				minutes = 1
			}
			fields["duration_min"] = minutes
		}
		if err := st.UpdateActivity(ctx, act.LocalID, fields); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %s (%d points)\n", ui.DoneMark, act.Title, act.Points)
	},
}

var activityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List today's activities",
	Run: func(cmd *cobra.Command, args []string) {
		runToday(cmd, args)
	},
}

var todayCmd = &cobra.Command{
	Use:     "today",
	GroupID: "core",
	Short:   "Regenerate and show today's activities",
	Run:     runToday,
}

func runToday(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	creds := newCreds(cfg)
	identity := requireIdentity(creds)

	ctx := context.Background()
	st := openStore(ctx, cfg)
	defer st.Close()

	res, err := regen.New(st, nil).Run(ctx, identity.UserID)
	if err != nil {
		fatal("%v", err)
	}
	switch {
	case res.NoGoal:
		fmt.Println("No active goal. Create one with `stride goal add`.")
		return
	case res.NotBegun:
		fmt.Println("Your goal has not started yet.")
		return
	case res.Completed:
		fmt.Println(ui.Pass("Your goal has run its course. Congratulations!"))
		return
	case res.RestDay:
		fmt.Println(ui.Dim("Rest day. Nothing scheduled."))
		return
	}

	goal, err := st.ActiveGoal(ctx, identity.UserID)
	if err != nil {
		fatal("%v", err)
	}
	acts, err := st.ActivitiesByOwnerGoalDate(ctx, identity.UserID, goal.LocalID, res.Date)
	if err != nil {
		fatal("%v", err)
	}

	fmt.Println(ui.Title(goal.Title) + ui.Dim("  "+res.Date))
	done, points := 0, 0
	for _, a := range acts {
		mark := ui.PendingMark
		switch a.Status {
		case schema.ActivityDone:
			mark = ui.DoneMark
			done++
			points += a.Points
		case schema.ActivityActive:
			mark = ui.ActiveMark
		case schema.ActivityExpired:
			mark = ui.ExpiredMark
		}
		line := fmt.Sprintf("%s %s (%d points)", mark, a.Title, a.Points)
		if a.DurationMin > 0 {
			line += ui.Dim(fmt.Sprintf("  %d min", a.DurationMin))
		}
		fmt.Println(line)
		fmt.Println(ui.Dim("  id: " + a.LocalID))
	}
	if len(acts) == 0 {
		fmt.Println(ui.Dim("No activities yet. Add one with `stride activity add`."))
		return
	}
	fmt.Printf("\n%d/%d done, %d points\n", done, len(acts), points)
}

// resolveActivityDate is a convenience for commands taking --date.
func resolveActivityDate(raw string) (string, error) {
	if raw == "" {
		return schema.DateString(time.Now()), nil
	}
	if norm, ok := schema.NormalizeDate(raw); ok {
		return norm, nil
	}
	return "", fmt.Errorf("invalid date %q", raw)
}

var activityHistoryCmd = &cobra.Command{
	Use:   "history [date]",
	Short: "Show activities for a past date",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		identity := requireIdentity(creds)

		raw := ""
		if len(args) == 1 {
			raw = args[0]
		}
		date, err := resolveActivityDate(raw)
		if err != nil {
			fatal("%v", err)
		}

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		goal, err := st.ActiveGoal(ctx, identity.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Println("No active goal.")
				return
			}
			fatal("%v", err)
		}
		acts, err := st.ActivitiesByOwnerGoalDate(ctx, identity.UserID, goal.LocalID, date)
		if err != nil {
			fatal("%v", err)
		}
		if len(acts) == 0 {
			fmt.Printf("Nothing recorded for %s.\n", date)
			return
		}
		for _, a := range acts {
			fmt.Printf("%-9s %s (%d points)\n", a.Status, a.Title, a.Points)
		}
	},
}

func init() {
	activityAddCmd.Flags().Int("points", 10, "Points awarded on completion")

	activityCmd.AddCommand(activityAddCmd, activityListCmd, activityStartCmd, activityDoneCmd, activityHistoryCmd)
	rootCmd.AddCommand(activityCmd, todayCmd)
}
