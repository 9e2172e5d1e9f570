package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/config"
	sdkAuth "github.com/aquila-desktop/aquila-auth/sdk/auth"
)

// DoLogout removes the persisted session.
func DoLogout(ctx context.Context, cfg *config.Config) error {
	rt, err := newAuthRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	if err = rt.coord.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

// DoStatus prints the current session.
func DoStatus(ctx context.Context, cfg *config.Config) error {
	rt, err := newAuthRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := rt.coord.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

// DoRefresh forces a token refresh and prints the new expiry.
func DoRefresh(ctx context.Context, cfg *config.Config) error {
	rt, err := newAuthRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	if err = rt.coord.Refresh(ctx); err != nil {
		return err
	}
	st, err := rt.coord.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(w io.Writer, st sdkAuth.Status) {
	if !st.LoggedIn || st.Profile == nil {
		_, _ = fmt.Fprintln(w, "Not logged in.")
		return
	}
	_, _ = fmt.Fprintf(w, "Logged in as %s (id %s)\n", st.Profile.DisplayName(), st.Profile.ID)
	if st.Profile.Email != "" {
		_, _ = fmt.Fprintf(w, "Email: %s\n", st.Profile.Email)
	}
	if !st.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Access token expires: %s\n", st.ExpiresAt.Local().Format(time.RFC3339))
	}
}
