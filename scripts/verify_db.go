package main

import (
	"fmt"
	"log"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/wwwzy/EstateAgent/internal/storage"
	"gorm.io/gorm"
)

func main() {
	path := "estateagent.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// Connect to the database
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	fmt.Printf("--- Verifying EstateAgent Database (%s) ---\n", path)

	// Verify Projects
	if !db.Migrator().HasTable(&storage.Project{}) {
		fmt.Println("Table 'projects' does not exist yet. Run `estateagent seed` first.")
	} else {
		var projectCount, unitCount, embedded int64
		db.Model(&storage.Project{}).Count(&projectCount)
		db.Model(&storage.Unit{}).Count(&unitCount)
		db.Model(&storage.Project{}).Where("embedding IS NOT NULL AND embedding <> 'null'").Count(&embedded)
		fmt.Printf("Projects: %d (with embeddings: %d), Units: %d\n", projectCount, embedded, unitCount)

		if projectCount > 0 {
			var projects []storage.Project
			db.Order("updated_at desc").Limit(5).Find(&projects)
			fmt.Println("Latest 5 Projects:")
			for _, p := range projects {
				geo := "no coords"
				if p.Latitude != nil && p.Longitude != nil {
					geo = fmt.Sprintf("%.4f,%.4f", *p.Latitude, *p.Longitude)
				}
				fmt.Printf("  %s [%s] %d-%d EGP (%s)\n", p.Name, p.LocationName, p.MinPrice, p.MaxPrice, geo)
			}
		}
	}

	fmt.Println("\n------------------------------------")

	// Verify Users and their threads
	if !db.Migrator().HasTable(&storage.User{}) {
		fmt.Println("Table 'users' does not exist yet.")
	} else {
		var users []storage.User
		db.Order("created_at desc").Limit(5).Find(&users)
		fmt.Printf("Latest %d Users:\n", len(users))
		for _, u := range users {
			var cp storage.Checkpoint
			state := "empty thread"
			if err := db.Where("thread_id = ?", u.ThreadID).Take(&cp).Error; err == nil {
				state = fmt.Sprintf("checkpoint v%d, %d bytes, updated %s", cp.Version, len(cp.State), cp.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("  %s <%s> %s\n", u.ID, u.Email, state)
		}
	}

	fmt.Println("\n------------------------------------")

	// Verify AuditRecords
	if !db.Migrator().HasTable(&storage.AuditRecord{}) {
		fmt.Println("Table 'audit_records' does not exist yet.")
	} else {
		var recs []storage.AuditRecord
		db.Order("created_at desc").Limit(5).Find(&recs)
		fmt.Println("Latest 5 Tool Calls (Local Time):")
		for _, r := range recs {
			msg := r.ErrorMessage
			if len(msg) > 50 {
				msg = msg[:47] + "..."
			}
			fmt.Printf("  [%s] %s %s %s\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Action, r.Status, msg)
		}
	}
}
