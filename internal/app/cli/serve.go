package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/bmccarn/paperless-knowledge-graph/internal/interface/httpapi"
)

// ServeAction はHTTP APIサーバを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	port := appCtx.Config.HTTPPort
	if p := cmd.Int("port"); p > 0 {
		port = int(p)
	}

	cont := appCtx.Container
	server := httpapi.NewServer(httpapi.Deps{
		Registry:  cont.Registry,
		Pipeline:  cont.Pipeline,
		Resolver:  cont.Resolver,
		Engine:    cont.Engine,
		GraphRepo: cont.GraphRepo,
		Vectors:   cont.Vectors,
		Source:    cont.Source,
		Cache:     cont.Cache,
		SyncState: cont.State,
		Logger:    appCtx.Logger(),
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appCtx.Logger().Info("HTTPサーバを起動します", "port", port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	appCtx.Logger().Info("HTTPサーバを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバの停止に失敗: %w", err)
	}
	return nil
}
