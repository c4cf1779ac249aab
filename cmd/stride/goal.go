package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/internal/ui"
)

var goalCmd = &cobra.Command{
	Use:     "goal",
	GroupID: "core",
	Short:   "Manage goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a goal and make it the active one",
	Long: `Create a goal. The start date accepts natural language:

  stride goal add "75 Hard" --start "next monday"
  stride goal add "Couch to 5k" --days 60 --weekly-days 4 --start tomorrow

Only one goal is active at a time; pass --replace to archive the current
one.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		weekly, _ := cmd.Flags().GetInt("weekly-days")
		startRaw, _ := cmd.Flags().GetString("start")
		replace, _ := cmd.Flags().GetBool("replace")
		seed, _ := cmd.Flags().GetStringArray("activity")

		start, err := parseStartDate(startRaw)
		if err != nil {
			fatal("%v", err)
		}

		cfg := loadConfig()
		creds := newCreds(cfg)
		identity := requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		if current, err := st.ActiveGoal(ctx, identity.UserID); err == nil {
			if !replace {
				fatal("goal %q is already active, pass --replace to archive it", current.Title)
			}
			if err := st.UpdateGoal(ctx, current.LocalID, map[string]any{"status": schema.GoalArchived}); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("Archived %q\n", current.Title)
		} else if !errors.Is(err, store.ErrNotFound) {
			fatal("%v", err)
		}

		goal := &schema.Goal{
			SyncMeta:   schema.SyncMeta{OwnerID: identity.UserID},
			Title:      args[0],
			Duration:   days,
			WeeklyDays: weekly,
			Status:     schema.GoalActive,
			StartDate:  schema.DateString(start),
			EndDate:    schema.DateString(start.AddDate(0, 0, days)),
		}
		id, err := st.CreateGoal(ctx, goal)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s %s\n", ui.Pass("✓"), ui.Title(goal.Title))
		fmt.Printf("  %d days starting %s, %d active days per week\n", days, goal.StartDate, weekly)
		fmt.Println(ui.Dim("  id: " + id))

		// Seed the first day's activities. They double as the templates
		// daily regeneration copies forward.
		if len(seed) > 0 {
			batch := make([]*schema.Activity, 0, len(seed))
			for _, title := range seed {
				batch = append(batch, &schema.Activity{
					SyncMeta: schema.SyncMeta{OwnerID: identity.UserID},
					GoalID:   id,
					Title:    title,
					Points:   10,
					Status:   schema.ActivityPending,
					Date:     goal.StartDate,
				})
			}
			if _, err := st.BulkCreateActivities(ctx, batch); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("  seeded %d daily activities\n", len(batch))
		}
	},
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		identity := requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		goals, err := st.ListGoals(ctx, identity.UserID)
		if err != nil {
			fatal("%v", err)
		}
		if len(goals) == 0 {
			fmt.Println("No goals yet. Create one with `stride goal add`.")
			return
		}
		for _, g := range goals {
			mark := ui.PendingMark
			switch g.Status {
			case schema.GoalActive:
				mark = ui.ActiveMark
			case schema.GoalCompleted:
				mark = ui.DoneMark
			}
			fmt.Printf("%s %s  %s\n", mark, ui.Title(g.Title),
				ui.Dim(fmt.Sprintf("%s → %s (%s)", g.StartDate, g.EndDate, g.Status)))
			fmt.Println(ui.Dim("  id: " + g.LocalID))
		}
	},
}

var goalDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a goal and all of its activities",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		identity := requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		goal, err := resolveGoal(ctx, st, identity.UserID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if err := st.DeleteGoal(ctx, goal.LocalID); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Deleted %q and its activities.\n", goal.Title)
	},
}

// resolveGoal accepts a local ID or the literal "current".
func resolveGoal(ctx context.Context, st *store.Store, ownerID, ref string) (*schema.Goal, error) {
	if strings.EqualFold(ref, "current") {
		return st.ActiveGoal(ctx, ownerID)
	}
	return st.GetGoal(ctx, ref)
}

// parseStartDate accepts a canonical date or natural language like
// "tomorrow" and "next monday". Empty means today.
func parseStartDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now(), nil
	}
	if t, err := schema.ParseDate(raw); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(raw, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse start date %q: %w", raw, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not parse start date %q", raw)
	}
	return r.Time, nil
}

func init() {
	goalAddCmd.Flags().Int("days", 75, "Goal length in days")
	goalAddCmd.Flags().Int("weekly-days", 5, "Active days per weekly cycle (rest days follow)")
	goalAddCmd.Flags().String("start", "", "Start date (natural language accepted, default today)")
	goalAddCmd.Flags().Bool("replace", false, "Archive the current active goal first")
	goalAddCmd.Flags().StringArray("activity", nil, "Daily activity to seed (repeatable)")

	goalCmd.AddCommand(goalAddCmd, goalListCmd, goalDeleteCmd)
	rootCmd.AddCommand(goalCmd)
}
