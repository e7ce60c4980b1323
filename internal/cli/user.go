package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "管理用户与画像",
	Long:  `创建用户、查看与修改画像。每个用户在创建时获得唯一且不变的对话线程。`,
}

var (
	userEmail      string
	userName       string
	userLocations  []string
	userBudget     int64
	userFamilySize int
	userInvestor   bool
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		u := &storage.User{
			Email:              userEmail,
			Name:               strings.TrimSpace(userName),
			PreferredLocations: userLocations,
			AverageBudget:      userBudget,
			FamilySize:         userFamilySize,
			IsInvestor:         userInvestor,
		}
		if err := store.CreateUser(ctx, u); err != nil {
			return err
		}
		fmt.Printf("Created user %s (thread %s)\n", u.ID, u.ThreadID)
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <id|email>",
	Short: "显示用户画像",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := resolveUser(ctx, store, args[0])
		if err != nil {
			return err
		}
		printUser(u)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.ListUsers(ctx, 0)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEmail\tName\tLocations\tBudget")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name,
				strings.Join(u.PreferredLocations, ", "), agent.FormatEGP(u.AverageBudget))
		}
		return w.Flush()
	},
}

var userSetProfileCmd = &cobra.Command{
	Use:   "set-profile <id|email>",
	Short: "修改用户画像，只更新显式指定的字段",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := resolveUser(ctx, store, args[0])
		if err != nil {
			return err
		}

		up := profileUpdateFromFlags(cmd)
		if up == (storage.ProfileUpdate{}) {
			return fmt.Errorf("没有指定要修改的字段")
		}
		u, err = store.UpdateUserProfile(ctx, u.ID, up)
		if err != nil {
			return err
		}
		printUser(u)
		return nil
	},
}

// profileUpdateFromFlags 只收集命令行上显式出现的字段。
func profileUpdateFromFlags(cmd *cobra.Command) storage.ProfileUpdate {
	var up storage.ProfileUpdate
	flags := cmd.Flags()
	if flags.Changed("name") {
		up.Name = &userName
	}
	if flags.Changed("locations") {
		up.PreferredLocations = &userLocations
	}
	if flags.Changed("budget") {
		up.AverageBudget = &userBudget
	}
	if flags.Changed("family-size") {
		up.FamilySize = &userFamilySize
	}
	if flags.Changed("investor") {
		up.IsInvestor = &userInvestor
	}
	return up
}

func printUser(u *storage.User) {
	fmt.Printf("ID:        %s\n", u.ID)
	fmt.Printf("Email:     %s\n", u.Email)
	fmt.Printf("Thread:    %s\n", u.ThreadID)
	fmt.Printf("Created:   %s\n", u.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Println(agent.RenderProfile(agent.ProfileFromUser(u)))
}

func addProfileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&userName, "name", "", "姓名")
	cmd.Flags().StringSliceVar(&userLocations, "locations", nil, "偏好区域，逗号分隔")
	cmd.Flags().Int64Var(&userBudget, "budget", 0, "预算 (EGP)")
	cmd.Flags().IntVar(&userFamilySize, "family-size", 0, "家庭人数")
	cmd.Flags().BoolVar(&userInvestor, "investor", false, "是否投资客")
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userShowCmd, userListCmd, userSetProfileCmd)

	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "邮箱（唯一）")
	_ = userCreateCmd.MarkFlagRequired("email")
	addProfileFlags(userCreateCmd)
	addProfileFlags(userSetProfileCmd)
}
