package cmd

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	agentpkg "github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/api"
	apitask "github.com/jcoop32/applied/api/task"
	apiworker "github.com/jcoop32/applied/api/worker"
	"github.com/jcoop32/applied/cmd/flags"
	"github.com/jcoop32/applied/database/dbcore"
	"github.com/jcoop32/applied/dispatch"
)

var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the server",
	Long:  `Start the server`,
	Run: func(cmd *cobra.Command, args []string) {
		dbcore.InitDatabase()
		dbcore.GetDBInstance()

		automation := agentpkg.NewHTTPAutomation(flags.AutomationEndpoint)
		pool := dispatch.NewLocalPool(flags.PoolSize, automation)
		runner := dispatch.NewRunnerClient(flags.RunnerEndpoint, flags.WorkerSecret, flags.CallbackURL+"/api/worker/callback")
		actions := dispatch.NewActionsClient(flags.GithubToken, flags.GithubOwner, flags.GithubRepo, flags.CallbackURL+"/api/worker/callback")

		defaultMode, ok := dispatch.ParseTarget(flags.DefaultMode)
		if !ok {
			logrus.Fatalf("Unknown default mode %q", flags.DefaultMode)
		}
		router := dispatch.NewRouter(pool, runner, actions, defaultMode)
		canceller := dispatch.NewCanceller(pool, runner)
		watchdog := dispatch.NewWatchdog(pool,
			time.Duration(flags.WatchdogInterval)*time.Second,
			time.Duration(flags.ResearchMaxRunTime)*time.Second,
			time.Duration(flags.ApplyMaxRunTime)*time.Second,
		)

		r := gin.Default()
		if flags.AllowCors {
			r.Use(cors.New(cors.Config{
				AllowOrigins:     []string{"*"},
				AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
				AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
				ExposeHeaders:    []string{"Content-Length"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}))
		}

		r.Any("/ping", func(c *gin.Context) {
			c.String(200, "pong")
		})

		taskHandlers := apitask.NewHandlers(router, canceller)
		authorized := r.Group("/api/tasks", api.AuthMiddleware())
		{
			authorized.POST("", taskHandlers.Start)
			authorized.GET("", taskHandlers.List)
			authorized.GET("/status", taskHandlers.Status)
			authorized.POST("/:task_id/cancel", taskHandlers.Cancel)
			authorized.GET("/:task_id/stream", taskHandlers.Stream) // websocket
		}

		workerHandlers := apiworker.NewHandlers(pool)
		workerAuthorized := r.Group("/api/worker", api.WorkerAuthMiddleware())
		{
			workerAuthorized.POST("/callback", workerHandlers.Callback)
			workerAuthorized.POST("/task", workerHandlers.Task)
			workerAuthorized.POST("/cancel", workerHandlers.Cancel)
		}

		srv := &http.Server{
			Addr:    flags.Listen,
			Handler: r,
		}

		var g run.Group
		g.Add(func() error {
			logrus.WithField("addr", flags.Listen).Info("http server listening")
			return srv.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		})

		watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return watchdog.Run(watchdogCtx)
		}, func(error) {
			watchdogCancel()
		})

		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

		if err := g.Run(); err != nil {
			if _, ok := err.(run.SignalError); ok {
				logrus.WithError(err).Info("shutting down")
				os.Exit(0)
			}
			logrus.WithError(err).Fatal("server exited")
		}
	},
}

func init() {
	ServerCmd.PersistentFlags().StringVarP(&flags.Listen, "listen", "l", envOr("APPLIED_LISTEN", "0.0.0.0:8700"), "Listen address")
	ServerCmd.PersistentFlags().BoolVar(&flags.AllowCors, "allow-cors", false, "Allow cross-origin requests")
	ServerCmd.PersistentFlags().StringVar(&flags.DefaultMode, "default-mode", envOr("APPLIED_DEFAULT_MODE", "LOCAL"), "Default execution mode: LOCAL, REMOTE_RUNNER or REMOTE_ACTIONS")
	ServerCmd.PersistentFlags().IntVar(&flags.PoolSize, "pool-size", envOrInt("APPLIED_POOL_SIZE", 4), "Local worker pool size")
	ServerCmd.PersistentFlags().StringVar(&flags.AutomationEndpoint, "automation-endpoint", envOr("APPLIED_AUTOMATION_ENDPOINT", "http://127.0.0.1:8931"), "Browser automation agent endpoint")
	ServerCmd.PersistentFlags().StringVar(&flags.RunnerEndpoint, "runner-endpoint", os.Getenv("APPLIED_RUNNER_ENDPOINT"), "Remote runner base URL")
	ServerCmd.PersistentFlags().StringVar(&flags.CallbackURL, "callback-url", envOr("APPLIED_CALLBACK_URL", "http://127.0.0.1:8700"), "Public base URL of this service, for remote executor callbacks")
	ServerCmd.PersistentFlags().StringVar(&flags.GithubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token for workflow dispatch")
	ServerCmd.PersistentFlags().StringVar(&flags.GithubOwner, "github-owner", os.Getenv("GITHUB_REPO_OWNER"), "GitHub repository owner")
	ServerCmd.PersistentFlags().StringVar(&flags.GithubRepo, "github-repo", os.Getenv("GITHUB_REPO_NAME"), "GitHub repository name")
	ServerCmd.PersistentFlags().IntVar(&flags.WatchdogInterval, "watchdog-interval", envOrInt("APPLIED_WATCHDOG_INTERVAL", 30), "Seconds between watchdog sweeps")
	ServerCmd.PersistentFlags().IntVar(&flags.ResearchMaxRunTime, "research-max-run", envOrInt("APPLIED_RESEARCH_MAX_RUN", 15*60), "Max seconds a RESEARCH task may run")
	ServerCmd.PersistentFlags().IntVar(&flags.ApplyMaxRunTime, "apply-max-run", envOrInt("APPLIED_APPLY_MAX_RUN", 45*60), "Max seconds an APPLY task may run")
	RootCmd.AddCommand(ServerCmd)
}
