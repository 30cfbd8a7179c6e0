// Package pagination walks token-paginated directory listings.
//
// The directory returns a nextPageToken with every page except the last.
// Pages must be fetched one after another because each token is only known
// once the previous page has arrived.
//
// Example usage:
//
//	members, err := pagination.Collect(ctx, pagination.DefaultConfig(),
//		func(ctx context.Context, token string) ([]directory.Member, string, error) {
//			page, err := client.ListMembers(ctx, groupKey, token)
//			if err != nil {
//				return nil, "", err
//			}
//			return page.Members, page.NextPageToken, nil
//		})
//
// Collect:
//   - Starts with an empty token
//   - Follows nextPageToken until it is empty
//   - Stops with ErrTooManyPages after Config.MaxPages pages
//   - Checks ctx between pages
package pagination
