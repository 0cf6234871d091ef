// manage package

package manage

import (
	"sort"
	"time"

	"github.com/cskr/pubsub"
	pubsubmutex "github.com/jonoton/percept/pubsubMutex"

	"github.com/radovskyb/watcher"
	log "github.com/sirupsen/logrus"

	"github.com/jonoton/percept/pipeline"
	"github.com/jonoton/percept/runtime"
	"github.com/jonoton/percept/videosource"
)

const topicAddFeed = "topic-add-feed"
const topicRemoveFeed = "topic-remove-feed"
const topicSubscribe = "topic-manage-subscribe"
const topicUnsubscribe = "topic-manage-unsubscribe"
const topicStop = "topic-stop"
const topicGetFeedNames = "topic-get-feed-names"
const topicCurrentFeedNames = "topic-current-feed-names"
const topicGetFeedStats = "topic-get-feed-stats"
const topicCurrentFeedStats = "topic-current-feed-stats"

// TopicNotifications carries pipeline.Notification values from all feeds
const TopicNotifications = "topic-feed-notifications"

// Manage contains all the feeds and manages them
type Manage struct {
	feeds      Map
	manageConf Config
	wtr        *watcher.Watcher
	pubsub     pubsubmutex.PubSubMutex
	done       chan bool
}

// NewManage creates a new Manage
func NewManage() *Manage {
	m := &Manage{
		feeds:      make(Map),
		manageConf: *NewConfig(runtime.GetRuntimeDirectory(".config") + ConfigFilename),
		wtr:        watcher.New(),
		pubsub:     *pubsubmutex.New(0),
		done:       make(chan bool),
	}
	return m
}

// AddFeed adds a new feed to manage
func (m *Manage) AddFeed(feed *Feed) {
	m.pubsub.TryPub(feed, topicAddFeed)
}
func (m *Manage) addFeed(feed *Feed) {
	log.Infoln("Add feed", feed.Name)
	m.feeds[feed.Name] = feed
	for _, pathName := range feed.ConfigPaths {
		go func(pathName string) {
			m.wtr.Add(pathName)
		}(pathName)
	}
	feed.SetNotifySink(func(n pipeline.Notification) {
		m.pubsub.TryPub(n, TopicNotifications)
	})
	feed.Start()
}

// GetFeedNames returns a list of feed names
func (m *Manage) GetFeedNames(timeoutMs int) (result []string) {
	r := m.pubsub.SendReceive(topicGetFeedNames, topicCurrentFeedNames,
		nil, timeoutMs)
	if r != nil {
		result = r.([]string)
	}
	return
}
func (m *Manage) pubFeedNames() {
	m.pubsub.Use(func(instance *pubsub.PubSub) {
		result := make([]string, 0)
		for key := range m.feeds {
			result = append(result, key)
		}
		sort.Strings(result)
		instance.TryPub(result, topicCurrentFeedNames)
	})
}

// GetFeedStats returns the feed's stats
func (m *Manage) GetFeedStats(feedName string, timeoutMs int) (result *FeedStats) {
	r := m.pubsub.SendReceive(topicGetFeedStats, topicCurrentFeedStats,
		feedName, timeoutMs)
	if r != nil {
		result = r.(*FeedStats)
	}
	return
}
func (m *Manage) pubFeedStats(feedName string) {
	m.pubsub.Use(func(instance *pubsub.PubSub) {
		if feed, found := m.feeds[feedName]; found {
			instance.TryPub(feed.GetFeedStats(), topicCurrentFeedStats)
		} else {
			instance.TryPub(nil, topicCurrentFeedStats)
		}
	})
}

// SubscribeNotifications returns a channel of pipeline.Notification from
// all feeds
func (m *Manage) SubscribeNotifications() <-chan interface{} {
	return m.pubsub.Sub(TopicNotifications)
}

// Start runs the processes
func (m *Manage) Start() {
	m.run()
}

func (m *Manage) addAllFeeds() {
	for _, cur := range m.manageConf.Feeds {
		feed := m.setupFeed(cur.Name, cur.ConfigPath)
		if feed != nil {
			m.addFeed(feed)
		}
	}
}

func (m *Manage) setupFeed(name string, configPath string) (feed *Feed) {
	if configPath == "" {
		return
	}
	runtimeConfigDir := runtime.GetRuntimeDirectory(".config")
	feedConfigPath := runtimeConfigDir + configPath
	settings := NewFeedSettings(feedConfigPath)
	if settings == nil {
		log.Errorln("Could not setup", name)
		return
	}
	var source videosource.Source
	if settings.URL != "" {
		source = videosource.NewIPCamSource(name, settings.URL)
	} else if settings.Animation != "" {
		source = videosource.NewAnimSource(name, settings.Animation, settings.Quality)
	} else if settings.Filename != "" {
		source = videosource.NewFileSource(name, settings.Filename, settings.Quality, settings.Loop)
	} else if settings.Device != nil {
		source = videosource.NewWebcamSource(name, *settings.Device, settings.Quality)
	} else {
		log.Errorln("No video source for", name)
		return
	}
	feed = NewFeed(name, source, pipeline.New(settings.Pipeline))
	feed.ConfigPaths = append(feed.ConfigPaths, feedConfigPath)
	feed.SetStaleConfig(settings.StaleTimeout, settings.StaleMaxRetry)
	return feed
}

// Stop the manage
func (m *Manage) Stop() {
	m.pubsub.TryPub(nil, topicStop)
}
func (m *Manage) stop() {
	m.pubsub.Shutdown()
	tmpMap := make(Map)
	for k, v := range m.feeds {
		tmpMap[k] = v
	}
	for _, v := range tmpMap {
		m.removeFeed(v, true)
	}
	close(m.done)
}

// Wait until done
func (m *Manage) Wait() {
	<-m.done
}

type subscribeFeed struct {
	feedName string
	key      string
	subChan  chan videosource.Envelope
}

// Subscribe to a feed's decoded envelopes
func (m *Manage) Subscribe(feedName string, key string) (result <-chan videosource.Envelope) {
	m.pubsub.Use(func(instance *pubsub.PubSub) {
		subFeed := subscribeFeed{
			feedName: feedName,
			key:      key,
			subChan:  make(chan videosource.Envelope),
		}
		instance.TryPub(subFeed, topicSubscribe)
		result = subFeed.subChan
	})
	return
}
func (m *Manage) subscribe(subFeed subscribeFeed) {
	if feed, ok := m.feeds[subFeed.feedName]; ok {
		feed.SubscribeWithChan(subFeed.key, subFeed.subChan)
	} else {
		close(subFeed.subChan)
	}
}

// Unsubscribe to a feed's decoded envelopes
func (m *Manage) Unsubscribe(feedName string, key string) {
	m.pubsub.TryPub(subscribeFeed{
		feedName: feedName,
		key:      key,
		subChan:  nil,
	}, topicUnsubscribe)
}
func (m *Manage) unsubscribe(subFeed subscribeFeed) {
	if feed, ok := m.feeds[subFeed.feedName]; ok {
		feed.Unsubscribe(subFeed.key)
	}
}

func (m *Manage) doCheckStaleFeeds(lastStaleList []*Feed) (staleList []*Feed) {
	staleList = make([]*Feed, 0)
	for _, cur := range m.feeds {
		if cur.IsStale {
			staleList = append(staleList, cur)
			log.Warningln("Stale feed", cur.Name)
		}
	}
	for _, stale := range staleList {
		m.removeFeed(stale, true)
		if stale.StaleRetry == 0 {
			log.Errorln("Stale feed DONE retrying for", stale.Name)
			continue
		}
		if found, conf := m.getFeedConf(stale.Name); found {
			newFeed := m.setupFeed(conf.Name, conf.ConfigPath)
			if newFeed == nil {
				log.Errorln("Stale setup feed FAILED for", stale.Name)
				continue
			}
			for _, lastStale := range lastStaleList {
				if lastStale.Name == newFeed.Name {
					newFeed.StaleRetry = stale.StaleRetry - 1
					log.Warningln("Stale retry decremented feed", newFeed.Name)
					if newFeed.StaleRetry == 0 {
						log.Errorln("Stale last retry for", newFeed.Name)
					}
				}
			}
			m.addFeed(newFeed)
			log.Infoln("Stale restarted feed", newFeed.Name)
		}
	}
	return
}

func (m *Manage) run() {
	m.pubsub.Start()
	m.watchConfigChanges()
	go func() {
		m.addAllFeeds()
		addFeedChan := m.pubsub.Sub(topicAddFeed)
		removeFeedChan := m.pubsub.Sub(topicRemoveFeed)
		subChan := m.pubsub.Sub(topicSubscribe)
		unsubChan := m.pubsub.Sub(topicUnsubscribe)
		stopChan := m.pubsub.Sub(topicStop)
		getFeedNamesChan := m.pubsub.Sub(topicGetFeedNames)
		getFeedStatsChan := m.pubsub.Sub(topicGetFeedStats)
		staleTicker := time.NewTicker(time.Second)
		lastStaleList := make([]*Feed, 0)
		retryList := make([]feedConf, 0)
	Loop:
		for {
			select {
			case feed, ok := <-removeFeedChan:
				if !ok {
					continue
				}
				m.removeFeed(feed.(*Feed), true)
			case feed, ok := <-addFeedChan:
				if !ok {
					continue
				}
				m.addFeed(feed.(*Feed))
			case subFeed, ok := <-subChan:
				if !ok {
					continue
				}
				m.subscribe(subFeed.(subscribeFeed))
			case subFeed, ok := <-unsubChan:
				if !ok {
					continue
				}
				m.unsubscribe(subFeed.(subscribeFeed))
			case _, ok := <-stopChan:
				if !ok {
					continue
				}
				m.stop()
			case _, ok := <-getFeedNamesChan:
				if !ok {
					continue
				}
				m.pubFeedNames()
			case name, ok := <-getFeedStatsChan:
				if !ok {
					continue
				}
				m.pubFeedStats(name.(string))
			case <-staleTicker.C:
				lastStaleList = m.doCheckStaleFeeds(lastStaleList)
			case event, ok := <-m.wtr.Event:
				if !ok {
					continue
				}
				retryList = m.doFeedConfigChanges(event.Path, retryList)
			case <-m.done:
				break Loop
			}
		}
		staleTicker.Stop()
	}()
}

// RemoveFeed will stop, wait, and remove from manage
func (m *Manage) RemoveFeed(feed *Feed) {
	m.pubsub.TryPub(feed, topicRemoveFeed)
}

func (m *Manage) removeFeed(feed *Feed, removeWatchPaths bool) {
	log.Infoln("Remove feed", feed.Name)
	feed.Stop()
	feed.Wait()
	if removeWatchPaths {
		m.removeFeedWatchPaths(feed)
	}
	delete(m.feeds, feed.Name)
}
func (m *Manage) removeFeedWatchPaths(feed *Feed) {
	uniquePaths := make(map[string]bool)
	for _, pathName := range feed.ConfigPaths {
		uniquePaths[pathName] = true
	}
	for _, cur := range m.feeds {
		if cur == feed {
			continue
		}
		for _, pathName := range cur.ConfigPaths {
			if _, found := uniquePaths[pathName]; found {
				uniquePaths[pathName] = false
			}
		}
	}
	for pathName, unique := range uniquePaths {
		if unique {
			go func(pathName string) {
				m.wtr.Remove(pathName)
			}(pathName)
		}
	}
}

func (m *Manage) doFeedConfigChanges(modPath string, inList []feedConf) (retryList []feedConf) {
	log.Infoln("Config changed", modPath)
	aFeeds := m.associatedFeeds(modPath)
	tryList := inList
	for _, cur := range aFeeds {
		m.removeFeed(cur, false)
		if found, conf := m.getFeedConf(cur.Name); found {
			tryList = append(tryList, conf)
		}
	}
	for _, conf := range tryList {
		newFeed := m.setupFeed(conf.Name, conf.ConfigPath)
		if newFeed == nil {
			log.Warningln("Config change setup feed FAILED for", conf.Name)
			retryList = append(retryList, conf)
			continue
		}
		m.addFeed(newFeed)
		log.Infoln("Config restarted feed", newFeed.Name)
	}
	return
}

func (m *Manage) watchConfigChanges() {
	go func() {
		if err := m.wtr.Start(time.Millisecond * 500); err != nil {
			log.Errorln(err)
			return
		}
	}()
}

func (m *Manage) associatedFeeds(modPath string) (result []*Feed) {
	result = make([]*Feed, 0)
	for _, cur := range m.feeds {
		for _, configPath := range cur.ConfigPaths {
			if configPath == modPath {
				result = append(result, cur)
				break
			}
		}
	}
	return
}

func (m *Manage) getFeedConf(name string) (found bool, result feedConf) {
	for _, conf := range m.manageConf.Feeds {
		if conf.Name == name {
			found = true
			result = conf
			break
		}
	}
	return
}
