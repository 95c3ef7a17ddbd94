package web

import (
	"fmt"
	"time"

	"github.com/gorilla/feeds"
	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/util"
)

const rssItemLimit = 20

// GetRSSFeed renders the most recent public statuses as RSS.
func GetRSSFeed(conf *util.AppConfig) (error, string) {
	database := db.GetDB()

	err, statuses := database.ReadRecentPublicStatuses(rssItemLimit)
	if err != nil {
		return err, ""
	}

	feed := &feeds.Feed{
		Title:       conf.Conf.SslDomain,
		Link:        &feeds.Link{Href: buildURL(conf, "/feed")},
		Description: fmt.Sprintf("Public posts on %s", conf.Conf.SslDomain),
		Created:     time.Now(),
	}

	for _, status := range *statuses {
		err, account := database.ReadActorById(status.AccountId)
		if err != nil {
			continue
		}

		title := util.StripHTML(status.Text)
		if len(title) > 80 {
			title = title[:77] + "..."
		}

		feed.Items = append(feed.Items, &feeds.Item{
			Id:          status.URI,
			Title:       title,
			Link:        &feeds.Link{Href: status.URI},
			Description: status.Text,
			Author:      &feeds.Author{Name: account.Handle()},
			Created:     status.CreatedAt,
		})
	}

	rss, err := feed.ToRss()
	if err != nil {
		return err, ""
	}
	return nil, rss
}

func buildURL(conf *util.AppConfig, path string) string {
	if conf.Conf.SslDomain != "" {
		return fmt.Sprintf("https://%s%s", conf.Conf.SslDomain, path)
	}
	return fmt.Sprintf("http://localhost:%d%s", conf.Conf.HttpPort, path)
}
