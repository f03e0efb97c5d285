// Package update keeps the running application current against a
// release feed.
//
// This package handles:
//   - Describing the release feed (FeedReference) and the capability the
//     coordinator needs from it (Feed)
//   - Querying the GitHub API for the latest release and comparing
//     semantic versions (Checker, GitHubFeed)
//   - Downloading, staging, and atomically installing a new binary, then
//     relaunching in place (Updater, RelaunchInstaller)
//   - Scheduling checks and reacting to feed events (Coordinator)
//
// The package is isolated from UI concerns. Status changes are delivered
// to observers as plain values; errors never leave the coordinator except
// through the log.
//
// Example usage:
//
//	ref := update.FeedReference{Provider: update.ProviderGitHub, Owner: "appshell", Repo: "appshell"}
//	updater := update.NewUpdater(ref)
//	feed := update.NewGitHubFeed(version, updater)
//	coord := update.NewCoordinator(feed, update.NewRelaunchInstaller(updater), ref)
//	if err := coord.Start(); err != nil {
//	    // handle error
//	}
//	defer coord.Stop()
package update
