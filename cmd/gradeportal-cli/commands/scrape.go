package commands

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"

	"gradeportal-backend/internal/gradediff"
	"gradeportal-backend/internal/scrape"
	"gradeportal-backend/internal/snapshot"

	"github.com/spf13/cobra"
)

var (
	scrapeUsername  string
	scrapeAccountId string
	scrapeSave      bool
	scrapeJson      bool
	scrapeDetails   bool
)

func init() {
	scrapeCmd.Flags().StringVarP(&scrapeUsername, "username", "u", "", "The portal username, defaults to $PORTAL_USERNAME.")
	scrapeCmd.Flags().StringVar(&scrapeAccountId, "account", "", "The student to pick when the login has several, defaults to $PORTAL_ACCOUNT_ID.")
	scrapeCmd.Flags().BoolVar(&scrapeSave, "save", false, "Diff against and replace the last saved scrape, and record course averages.")
	scrapeCmd.Flags().BoolVar(&scrapeJson, "json", false, "Print the scrape result as json.")
	scrapeCmd.Flags().BoolVar(&scrapeDetails, "details", false, "Also print the assignments of every class.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <district>",
	Short: "Scrapes the grades of one login, the password is read from $PORTAL_PASSWORD.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		district, err := findDistrict(args[0])
		if err != nil {
			return err
		}

		creds := scrape.Credentials{
			Username:  cmp.Or(scrapeUsername, os.Getenv("PORTAL_USERNAME")),
			Password:  os.Getenv("PORTAL_PASSWORD"),
			AccountId: cmp.Or(scrapeAccountId, os.Getenv("PORTAL_ACCOUNT_ID")),
		}
		if creds.Username == "" || creds.Password == "" {
			return fmt.Errorf("set --username or $PORTAL_USERNAME, and $PORTAL_PASSWORD (a .env file works)")
		}

		scraper, err := newScraper()
		if err != nil {
			return err
		}
		result, err := scraper.Run(ctx, scrape.Job{District: district, Credentials: creds})
		if err != nil {
			return err
		}

		if scrapeJson {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		} else {
			renderCourses(result)
			if scrapeDetails {
				renderClassGrades(result)
			}
		}

		if !scrapeSave {
			return nil
		}
		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		account := snapshot.AccountOf(result)
		previous, found, err := store.LatestScrape(ctx, account)
		if err != nil {
			return err
		}
		if found && !scrapeJson {
			renderChanges(gradediff.Diff(previous, result))
		}
		pushed, err := store.PushCourses(ctx, account, result.Courses)
		if err != nil {
			return err
		}
		err = store.SaveScrape(ctx, result)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved scrape and %d course averages to %s\n", pushed, config.Database)
		return nil
	},
}
